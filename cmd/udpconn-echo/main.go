package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/oksana-dev/udpconn"
	"github.com/oksana-dev/udpconn/negotiator"
)

func main() {
	modeFlag := flag.String("mode", "listen", "listen or dial")
	addrFlag := flag.String("addr", ":9443", "address to listen on or dial")
	messageFlag := flag.String("message", "hello", "message to send in dial mode")

	flag.Usage = printUsage
	flag.Parse()

	switch *modeFlag {
	case "listen":
		runListen(*addrFlag)
	case "dial":
		runDial(*addrFlag, *messageFlag)
	default:
		log.Fatalf("unknown mode %q", *modeFlag)
	}
}

func runListen(addr string) {
	newConn := func(facade udpconn.Facade, reg udpconn.ApplicationRegistration) *udpconn.Conn {
		c := udpconn.NewConn(facade,
			udpconn.WithApplicationRegistration(reg),
			udpconn.WithAutoKeepAlive(10*time.Second, 30*time.Second),
		)
		c.Register(echoCallback{})
		neg, err := negotiator.NewServer(c.SendNegotiationPacket)
		if err != nil {
			log.Printf("negotiator init failed: %v", err)
			return c
		}
		if err := c.Negotiate(context.Background(), neg); err != nil {
			log.Printf("negotiate failed: %v", err)
		}
		return c
	}

	l, err := udpconn.ListenUDP(addr, newConn, 0)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("listening on %s", addr)

	for {
		c, err := l.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			return
		}
		log.Printf("accepted connection, state=%s", c.State())
	}
}

func runDial(addr, message string) {
	c, err := udpconn.DialUDP(addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer c.Close()

	c.Register(echoCallback{})

	neg, err := negotiator.NewClient(c.SendNegotiationPacket)
	if err != nil {
		log.Fatalf("negotiator init: %v", err)
	}

	done := make(chan bool, 1)
	waitForConnected(c, done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Negotiate(ctx, neg); err != nil {
		log.Fatalf("negotiate: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			log.Fatalf("negotiation failed")
		}
	case <-ctx.Done():
		log.Fatalf("negotiation timed out")
	}

	if _, err := c.Send([]byte(message)); err != nil {
		log.Fatalf("send: %v", err)
	}
	log.Printf("sent %q", message)
	time.Sleep(500 * time.Millisecond)
}

// waitForConnected polls State in a background goroutine until the
// connection reaches StateConnected, StateFailed or StateDead, then signals
// done (true only for StateConnected).
func waitForConnected(c *udpconn.Conn, done chan bool) {
	go func() {
		for {
			switch c.State() {
			case udpconn.StateConnected:
				done <- true
				return
			case udpconn.StateFailed, udpconn.StateDead:
				done <- false
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
}

type echoCallback struct{}

func (echoCallback) PacketReceived(_ context.Context, payload []byte) error {
	log.Printf("received %q", payload)
	return nil
}

func (echoCallback) StateChanged(c *udpconn.Conn) {
	log.Printf("connection state changed to %s", c.State())
}

func printUsage() {
	fmt.Println("udpconn-echo - minimal echo host for the udpconn session layer")
	fmt.Println("Usage:")
	fmt.Println("  udpconn-echo -mode listen -addr :9443")
	fmt.Println("  udpconn-echo -mode dial -addr 127.0.0.1:9443 -message hi")
}
