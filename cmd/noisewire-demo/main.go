// Command noisewire-demo demonstrates an IK handshake and a typed message
// exchange between two in-process peers connected over a net.Pipe.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/quietpipe/noisewire/noise"
	"github.com/quietpipe/noisewire/typed"
)

// Ping and Pong are the demo's typed message pair, gob-encoded.
type Ping struct {
	Seq     int
	Message string
}

type Pong struct {
	Seq     int
	Message string
}

// generateNodeKeyPairs creates static keypairs for both demo peers and
// prints their public keys.
func generateNodeKeyPairs() (noise.KeyPair, noise.KeyPair, error) {
	client, err := noise.GenerateKeyPair()
	if err != nil {
		return noise.KeyPair{}, noise.KeyPair{}, fmt.Errorf("generate client keypair: %w", err)
	}
	server, err := noise.GenerateKeyPair()
	if err != nil {
		return noise.KeyPair{}, noise.KeyPair{}, fmt.Errorf("generate server keypair: %w", err)
	}
	fmt.Printf("client public key: %x\n", client.Public[:8])
	fmt.Printf("server public key: %x\n", server.Public[:8])
	return client, server, nil
}

// runHandshakes drives the client (initiator, IK) and server (responder,
// IK) handshakes concurrently over the two ends of a net.Pipe, returning a
// typed transport for each side.
func runHandshakes(ctx context.Context, clientKeys, serverKeys noise.KeyPair) (*typed.Transport[Ping, Pong], *typed.Transport[Pong, Ping], error) {
	clientConn, serverConn := net.Pipe()

	var clientResult, serverResult *noise.Result
	var clientErr, serverErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		clientResult, clientErr = noise.NewBuilder().
			WithLocalKeys(clientKeys).
			WithTransport(clientConn).
			WithLocalRole(noise.RoleImmediate).
			WithPeerRole(noise.RoleKnown).
			WithPeerKey(serverKeys.Public).
			WithHandshakeTimeout(5 * time.Second).
			BuildAsInitiator(ctx)
	}()
	go func() {
		defer wg.Done()
		serverResult, serverErr = noise.NewBuilder().
			WithLocalKeys(serverKeys).
			WithTransport(serverConn).
			WithLocalRole(noise.RoleKnown).
			WithPeerRole(noise.RoleImmediate).
			WithHandshakeTimeout(5 * time.Second).
			BuildAsResponder(ctx)
	}()
	wg.Wait()

	if clientErr != nil {
		return nil, nil, fmt.Errorf("client handshake: %w", clientErr)
	}
	if serverErr != nil {
		return nil, nil, fmt.Errorf("server handshake: %w", serverErr)
	}

	fmt.Printf("client sees server static key: %x\n", clientResult.GetRemoteStaticKey()[:8])

	clientTransport := typed.New[Ping, Pong](clientResult.Socket, typed.GobCodec[Ping]{}, typed.GobCodec[Pong]{})
	serverTransport := typed.New[Pong, Ping](serverResult.Socket, typed.GobCodec[Pong]{}, typed.GobCodec[Ping]{})
	return clientTransport, serverTransport, nil
}

// runEchoExchange sends a Ping from the client, has the server reply with a
// Pong, and prints both.
func runEchoExchange(client *typed.Transport[Ping, Pong], server *typed.Transport[Pong, Ping]) error {
	done := make(chan error, 1)
	go func() {
		req, err := server.Next()
		if err != nil {
			done <- fmt.Errorf("server receive: %w", err)
			return
		}
		fmt.Printf("server received: seq=%d message=%q\n", req.Seq, req.Message)
		err = server.Send(Pong{Seq: req.Seq, Message: "pong: " + req.Message})
		done <- err
	}()

	if err := client.Send(Ping{Seq: 1, Message: "hello from client"}); err != nil {
		return fmt.Errorf("client send: %w", err)
	}
	if err := <-done; err != nil {
		return err
	}

	reply, err := client.Next()
	if err != nil {
		return fmt.Errorf("client receive: %w", err)
	}
	fmt.Printf("client received: seq=%d message=%q\n", reply.Seq, reply.Message)
	return nil
}

func main() {
	fmt.Println("=== noisewire IK handshake + typed echo demo ===")

	clientKeys, serverKeys, err := generateNodeKeyPairs()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	client, server, err := runHandshakes(ctx, clientKeys, serverKeys)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
	defer server.Close()

	if err := runEchoExchange(client, server); err != nil {
		log.Fatal(err)
	}

	fmt.Println("=== demo complete ===")
}
