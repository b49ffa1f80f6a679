// peerauth-demo runs one peerauth.Peer over a real TCP socket; two
// processes, one listening and one dialing, perform a mutual-authentication
// handshake followed by a signed general message exchange.
//
// Usage:
//
//	peerauth-demo -listen :7040
//	peerauth-demo -dial localhost:7040 -message "hello"
//
// The listening side waits for the dialing side to connect, authenticates
// it, and prints any general message it receives. The dialing side
// connects, authenticates the listener, and sends -message once the
// handshake completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/backkem/peerauth/pkg/peerauth"
	"github.com/backkem/peerauth/pkg/peerauth/nettransport"
	"github.com/backkem/peerauth/pkg/peerauth/walletauth"
)

func main() {
	listenAddr := flag.String("listen", "", "accept a single inbound connection on this address")
	dialAddr := flag.String("dial", "", "dial a peer listening on this address")
	message := flag.String("message", "hello from peerauth-demo", "payload to send after the handshake completes")
	timeout := flag.Duration("timeout", 15*time.Second, "handshake and connection timeout")
	flag.Parse()

	if (*listenAddr == "") == (*dialAddr == "") {
		log.Fatalf("exactly one of -listen or -dial is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	wallet, err := walletauth.New()
	if err != nil {
		log.Fatalf("creating wallet: %v", err)
	}
	pub, _ := wallet.GetPublicKey(ctx)
	log.Printf("identity key: %s", pub)

	transportCfg := nettransport.Config{ListenAddr: *listenAddr, DialAddr: *dialAddr}
	tr, err := nettransport.Dial(ctx, transportCfg)
	if err != nil {
		log.Fatalf("establishing transport: %v", err)
	}
	defer tr.Close()

	peer, err := peerauth.NewPeer(peerauth.PeerConfig{
		Wallet:    wallet,
		Transport: tr,
	})
	if err != nil {
		log.Fatalf("creating peer: %v", err)
	}

	peer.ListenForGeneralMessage(func(sender string, payload []byte) {
		log.Printf("received from %s: %s", sender, payload)
	})

	if *dialAddr != "" {
		sess, err := peer.InitiateHandshake(ctx, "")
		if err != nil {
			log.Fatalf("handshake failed: %v", err)
		}
		log.Printf("authenticated peer %s", sess.PeerIdentityKey)

		if err := peer.ToPeer(ctx, []byte(*message), sess.PeerIdentityKey); err != nil {
			log.Fatalf("sending message: %v", err)
		}
		log.Printf("sent: %s", *message)
		return
	}

	fmt.Println("waiting for handshake and messages, press ctrl-c to exit")
	<-ctx.Done()
}
