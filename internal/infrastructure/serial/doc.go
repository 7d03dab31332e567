// Package serial connects to the ESP-NOW gateway radio over a serial port.
//
// A Transport owns the port and a frame.Decoder. It keeps reopening the
// port with backoff until Close is called, optionally pulses RTS after
// each open to reboot the radio, and reports decoded packets and link
// changes through callbacks:
//
//	t, err := serial.New(serial.Config{Port: "/dev/ttyUSB0", BaudRate: 9600})
//	if err != nil {
//	    return err
//	}
//	t.SetOnPacket(func(p frame.Packet) { ... })
//	t.SetOnConnect(func() { ... })
//	t.SetOnDisconnect(func(err error) { ... })
//	t.Start(ctx)
//	defer t.Close()
//
// Outbound frames go through Send, which never blocks: frames are queued
// for a writer goroutine and rejected with ErrQueueFull when the queue is
// saturated or ErrNotConnected while the port is down.
//
// Callbacks run on the transport goroutines and must not block.
package serial
