/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package overlay

import (
	"container/heap"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
)

// Send priorities. Control traffic outranks payloads so protocol
// handshakes drain first; within one priority the buffer is FIFO.
const (
	PriorityPayload = 10
	PriorityCtl     = 100
)

type bufferedSend struct {
	dst identity.Peer
	pri int
	msg *protocol.OverlayMessage

	seq uint64 // arrival order, breaks priority ties
}

// sendBuffer is a max-heap of pending sends. Engine-owned: it is not safe
// to push from other goroutines.
type sendBuffer struct {
	items   []*bufferedSend
	nextSeq uint64
}

func newSendBuffer() *sendBuffer {
	b := &sendBuffer{}
	heap.Init(b)
	return b
}

// Push enqueues a send at the given priority
func (b *sendBuffer) Push(x any) {
	b.items = append(b.items, x.(*bufferedSend))
}

// Pop removes the last element, used via heap.Pop only
func (b *sendBuffer) Pop() any {
	old := b.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	b.items = old[:n-1]
	return it
}

func (b *sendBuffer) Len() int { return len(b.items) }

func (b *sendBuffer) Less(i, j int) bool {
	if b.items[i].pri != b.items[j].pri {
		return b.items[i].pri > b.items[j].pri
	}
	return b.items[i].seq < b.items[j].seq
}

func (b *sendBuffer) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
}

func (b *sendBuffer) push(dst identity.Peer, pri int, msg *protocol.OverlayMessage) {
	b.nextSeq++
	heap.Push(b, &bufferedSend{dst: dst, pri: pri, msg: msg, seq: b.nextSeq})
}

func (b *sendBuffer) pop() (*bufferedSend, bool) {
	if b.Len() == 0 {
		return nil, false
	}
	return heap.Pop(b).(*bufferedSend), true
}
