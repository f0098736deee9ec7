// Package noisewire turns a reliable, ordered, bidirectional byte transport
// (typically a TCP connection) into an authenticated, encrypted message
// channel using the Noise Protocol Framework, and layers a typed request/
// response abstraction on top of it.
//
// Three packages do the work:
//
//	noise  - drives a Noise handshake pattern to completion over a raw
//	         io.ReadWriteCloser and yields a *socket.Socket
//	socket - a duplex byte stream that transparently fragments, encrypts,
//	         and frames writes, and reassembles and decrypts reads
//	typed  - a bidirectional stream/sink of typed values layered on a
//	         *socket.Socket, using a pluggable length-delimited codec
//
// The frame package underlies both socket and the handshake driver: it
// implements the two length-delimited wire codecs (a 16-bit inner framer
// for individual Noise messages, a 32-bit outer framer for packs of them)
// that the rest of the library composes.
//
// Example:
//
//	local, _ := noise.GenerateKeyPair()
//	conn, _ := net.Dial("tcp", "peer.example.com:4433")
//
//	res, err := noise.NewBuilder().
//		WithLocalKeys(local).
//		WithLocalRole(noise.RoleKnown).
//		WithPeerRole(noise.RoleKnown).
//		WithPeerKey(peerPubKey).
//		WithTransport(conn).
//		BuildAsInitiator(context.Background())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer res.Socket.Close()
//
//	tt := typed.New[Request, Response](res.Socket, typed.GobCodec[Request]{}, typed.GobCodec[Response]{})
//	if err := tt.Send(Request{Kind: "ping"}); err != nil {
//		log.Fatal(err)
//	}
//	resp, err := tt.Next()
package noisewire
