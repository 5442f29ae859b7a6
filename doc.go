// Package knxtunnel implements a client-side KNXnet/IP tunnelling stack.
//
// It speaks the UDP tunnelling profile of KNXnet/IP directly to a gateway:
// connection establishment and heartbeat (CONNECT/CONNECTIONSTATE/DISCONNECT),
// windowed request/acknowledge tunnelling of cEMI L_Data frames, and decode/encode
// of the datapoint types (DPTs) carried in group communication.
//
// # Layers
//
// Addressing (address.go) parses and formats group and individual
// addresses. Datapoint codecs (dpt*.go) convert between the wire
// representation of a DPT and a tagged Value. cEMI framing (cemi.go)
// and KNXnet/IP framing (frame.go) implement the two nested wire
// formats. Connection (connection.go) drives the tunnelling state
// machine over a Transport (transport.go), using an injectable
// Scheduler (scheduler.go) so timing-dependent behaviour — retries,
// heartbeats, reconnect backoff — can be tested deterministically.
// Datapoint and Binder (datapoint.go) give applications a GA+DPT handle
// with read/write/change-notification semantics on top of a Connection.
//
// # Usage
//
//	cfg, err := knxtunnel.LoadConfig("bridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tr, err := knxtunnel.NewTransport(cfg.Gateway.Host, cfg.Gateway.Port, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	conn, err := knxtunnel.NewConnection(cfg.ToConnectionConfig(), tr, knxtunnel.NewRealScheduler(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go tr.Run(ctx)
//	if err := conn.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	dp, err := knxtunnel.NewDatapoint(conn, ga, knxtunnel.DPT1Switch)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dp.Write(ctx, knxtunnel.BoolValue(true))
package knxtunnel
