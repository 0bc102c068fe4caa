package server

import (
	"encoding/base64"

	"github.com/emersion/go-sasl"
)

// RunSASL drives a SASL mechanism through its challenge/response
// exchange on conn. initial is the decoded initial response from the
// AUTH command line, or nil when the client sent none. writeChallenge
// emits one continuation line in the caller's protocol framing.
//
// RunSASL returns nil once the mechanism reports completion. It
// returns ErrAuthAborted when the client cancels the exchange with a
// "*" line, and otherwise whatever error the mechanism or the
// connection produced.
func RunSASL(mech sasl.Server, initial []byte, conn *Conn, writeChallenge func(*Conn, string) error) error {
	response := initial
	for {
		challenge, done, err := mech.Next(response)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := writeChallenge(conn, EncodeSASLChallenge(challenge)); err != nil {
			return err
		}
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}
		if line == "*" {
			return ErrAuthAborted
		}
		response, err = DecodeSASLResponse(line)
		if err != nil {
			return err
		}
	}
}

// DecodeSASLResponse decodes a base64-encoded SASL response. A lone
// "=" stands for a zero-length response.
func DecodeSASLResponse(encoded string) ([]byte, error) {
	if encoded == "=" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// EncodeSASLChallenge encodes a SASL challenge to base64.
func EncodeSASLChallenge(challenge []byte) string {
	return base64.StdEncoding.EncodeToString(challenge)
}
