// Package krpc implements the wire layer of the Mainline BitTorrent DHT:
// 160-bit node identifiers with the XOR distance metric, network endpoints
// with their compact encodings, and the bencoded KRPC message frames
// exchanged over UDP (BEP-5).
//
// The package is purely computational. It performs no I/O; the dht package
// drives it from the datagram loop.
//
// Example:
//
//	msg := krpc.NewPingQuery("aa", localID)
//	data, err := krpc.EncodeMessage(msg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// data is ready to be written to the UDP socket
package krpc
