package udpconn

// ApplicationRegistration is a scoped handle representing a connection's
// listing inside a shared-transport demultiplexer (GLOSSARY). It is
// released exactly once, on Failed, on Dead, or on Dispose — see
// Conn.releaseAppRegistration. The shared-transport Listener in dial.go
// implements this by removing the connection's uuid.UUID key from its
// registration table.
type ApplicationRegistration interface {
	Release()
}

// applicationRegistrationFunc adapts a plain function to
// ApplicationRegistration, the same "func adapter" idiom the teacher uses
// for Option.
type applicationRegistrationFunc func()

func (f applicationRegistrationFunc) Release() { f() }
