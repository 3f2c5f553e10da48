// Copyright 2026 The Nimbus Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport is the thin TCP+gob connection pkg/router's Sender
// and Dispatch need a concrete body for. §1's non-goals exclude wire
// framing and socket plumbing beyond message *semantics*; this package
// intentionally goes no further than that - gob encodes router.Message
// directly, there is no bespoke byte layout to maintain, and the only
// job here is turning a net.Conn into something router.Sender/Dispatch
// can call.
package transport

import (
	"context"
	"encoding/gob"
	"net"
	"sync"

	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/router"
)

func init() {
	// Every concrete Body type router.Message carries must be
	// registered once for gob to encode the `any` field.
	gob.Register(router.Handshake{})
	gob.Register(router.SpawnCompute{})
	gob.Register(router.SpawnCopy{})
	gob.Register(router.DefineData{})
	gob.Register(router.DefinePartition{})
	gob.Register(router.JobDone{})
	gob.Register(router.SaveDataDone{})
	gob.Register(router.DetectTemplate{})
	gob.Register(router.AddComputeJobToTemplate{})
	gob.Register(router.FinalizeTemplate{})
	gob.Register(router.InstantiateTemplate{})
	gob.Register(router.WorkerTerminate{})
	gob.Register(router.Execute{})
	gob.Register(router.Create{})
	gob.Register(router.LocalCopy{})
	gob.Register(router.RemoteCopySend{})
	gob.Register(router.RemoteCopyReceive{})
	gob.Register(router.MegaRCR{})
	gob.Register(router.SaveData{})
	gob.Register(router.LoadData{})
	gob.Register(router.ControllerTerminate{})
}

// Conn is one gob-over-TCP connection carrying router.Message values in
// both directions. Send is safe for concurrent use; Recv is not meant
// to be called from more than one goroutine.
type Conn struct {
	nc  net.Conn
	enc *gob.Encoder
	dec *gob.Decoder

	mu sync.Mutex
}

// NewConn wraps an already-established net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, enc: gob.NewEncoder(nc), dec: gob.NewDecoder(nc)}
}

// Dial opens a new connection to addr.
func Dial(addr string) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc), nil
}

// Send encodes and writes msg, satisfying router.Sender's signature so
// a Conn can be plugged directly into router.New.
func (c *Conn) Send(_ context.Context, worker model.WorkerID, msg router.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Worker = worker
	return c.enc.Encode(&msg)
}

// Recv blocks for the next message on the connection.
func (c *Conn) Recv() (router.Message, error) {
	var msg router.Message
	err := c.dec.Decode(&msg)
	return msg, err
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Listener accepts inbound worker connections and hands each off to
// handleConn in its own goroutine, the TCP analogue of the teacher's
// gRPC connection-per-peer model without the gRPC machinery the
// controller's typed command router doesn't need (§1: no HTTP/gRPC
// gateway surface for this protocol).
type Listener struct {
	ln net.Listener
}

// Listen opens addr for inbound worker connections.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until the listener is closed, invoking
// handleConn for each in its own goroutine.
func (l *Listener) Serve(handleConn func(*Conn)) error {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go handleConn(NewConn(nc))
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
