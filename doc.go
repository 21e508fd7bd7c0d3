// Package walink maintains long-lived client sessions to the WA
// messaging service over a secure WebSocket.
//
// Each session runs a Noise_XX handshake, speaks the framed binary
// stanza protocol on top of the resulting transport cipher, drives the
// device-pairing QR flow, keeps its connection alive, reconnects with
// exponential backoff and persists its cryptographic material through
// a pluggable store.
//
// Example:
//
//	st, err := store.OpenPebble("/var/lib/walink")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	manager := walink.NewManager(st, walink.NewOptions())
//
//	session, err := manager.Create("primary")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for se := range manager.Events() {
//	        if cu, ok := se.Event.(walink.ConnectionUpdate); ok && cu.QR != "" {
//	            fmt.Println("scan:", cu.QR)
//	        }
//	    }
//	}()
//
//	if err := session.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package walink
