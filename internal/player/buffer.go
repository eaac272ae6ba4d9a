package player

import (
	"sync"
)

type opusBuffer struct {
	mu       sync.Mutex
	packets  []bufferedPacket
	maxSize  int
	readPos  int
	writePos int
	closed   bool
	eos      bool
	notEmpty *sync.Cond
}

type bufferedPacket struct {
	data []byte
	seq  int64
}

func newOpusBuffer(maxPackets int) *opusBuffer {
	ob := &opusBuffer{
		packets: make([]bufferedPacket, maxPackets),
		maxSize: maxPackets,
	}
	ob.notEmpty = sync.NewCond(&ob.mu)
	return ob
}

func (ob *opusBuffer) usedLocked() int {
	return (ob.writePos - ob.readPos + ob.maxSize) % ob.maxSize
}

// Push returns false when the ring is full or no longer accepts data.
func (ob *opusBuffer) Push(data []byte, seq int64) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.closed || ob.eos {
		return false
	}
	if ob.usedLocked() >= ob.maxSize-1 {
		return false
	}

	ob.packets[ob.writePos] = bufferedPacket{
		data: append([]byte(nil), data...),
		seq:  seq,
	}
	ob.writePos = (ob.writePos + 1) % ob.maxSize
	ob.notEmpty.Signal()
	return true
}

// Pop blocks until a packet is available. It returns false once the buffer
// is closed, or drained after MarkEOS.
func (ob *opusBuffer) Pop() (bufferedPacket, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for {
		if ob.closed {
			return bufferedPacket{}, false
		}
		if ob.usedLocked() > 0 {
			pkt := ob.packets[ob.readPos]
			ob.packets[ob.readPos] = bufferedPacket{}
			ob.readPos = (ob.readPos + 1) % ob.maxSize
			return pkt, true
		}
		if ob.eos {
			return bufferedPacket{}, false
		}
		ob.notEmpty.Wait()
	}
}

func (ob *opusBuffer) BufferedCount() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.usedLocked()
}

// Filled reports whether at least n packets are queued or no more will come.
func (ob *opusBuffer) Filled(n int) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.usedLocked() >= n || ob.eos || ob.closed
}

// Flush drops queued packets without ending the stream.
func (ob *opusBuffer) Flush() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for i := range ob.packets {
		ob.packets[i] = bufferedPacket{}
	}
	ob.readPos = 0
	ob.writePos = 0
}

func (ob *opusBuffer) MarkEOS() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.eos = true
	ob.notEmpty.Broadcast()
}

func (ob *opusBuffer) Close() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.closed = true
	ob.notEmpty.Broadcast()
}
