// Package dht implements a participating node in the Mainline
// BitTorrent Distributed Hash Table (BEP-5).
//
// The package joins the global network by pinging well-known bootstrap
// nodes, maintains a Kademlia routing table of 160 buckets split along
// the prefix tree around the local identifier, answers the four KRPC
// queries from peers, and issues the same queries to discover the peers
// announcing an info-hash.
//
// The moving parts are wired together by the Dispatcher, which consumes
// datagrams from a transport.Transport and routes decoded frames to the
// query, response and error handlers. Outbound requests go through the
// Sender, which borrows transaction ids from the TransactionRegistry so
// responses can be correlated with the query that caused them.
// Discovered peers accumulate in the Storage and are read back with
// Storage.Find.
//
// Example:
//
//	trans, err := transport.NewUDPTransport(":6881")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	local := dht.NewLocalNode("203.0.113.7", 6881, krpc.RandomNodeID())
//	disp := dht.NewDispatcher(local, trans)
//	bootstrap := dht.NewBootstrapManager(disp.Sender(), disp.RoutingTable(), nil)
//	bootstrap.Bootstrap(context.Background())
package dht
