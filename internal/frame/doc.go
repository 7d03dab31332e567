// Package frame implements the binary framing used on the serial link
// between the gateway process and the ESP-NOW radio.
//
// Every frame has the layout
//
//	SYNC(0xAA) | VERSION(0x01) | TYPE | BODY | CRC
//
// where CRC is the running XOR of every byte from VERSION to the end of
// BODY. The body layout depends on TYPE:
//
//	0x01 GATEWAY_INIT      MAC(6)
//	0x20 ESPNOW_RX         MAC(6) RSSI(1) LEN(1) PAYLOAD(LEN)
//	0x21 ESPNOW_TX         MAC(6) LEN(1) PAYLOAD(LEN)   (outbound only)
//	0x22 ESPNOW_TX_STATUS  MAC(6) STATUS(1)
//
// # Decoding
//
// Decoder is a streaming reassembler. Feed appends raw serial bytes and
// returns every complete frame found so far. Corrupted input (bad version,
// unknown type, CRC mismatch) is skipped one byte at a time so the decoder
// resynchronises on the next sync byte instead of failing.
//
//	dec := frame.NewDecoder()
//	packets, err := dec.Feed(chunk)
//	if err != nil {
//	    log.Warn("dropped frames", "error", err)
//	}
//	for _, p := range packets {
//	    switch pkt := p.(type) {
//	    case *frame.EspNowRx:
//	        // pkt.MAC, pkt.RSSI, pkt.Payload
//	    }
//	}
//
// # Encoding
//
// EncodeEspNowTx builds an outbound ESPNOW_TX frame; EncodeRaw wraps an
// arbitrary type byte and body.
package frame
