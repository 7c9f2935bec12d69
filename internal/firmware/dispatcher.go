package firmware

import (
	"github.com/ledmatrix/matrixnode/internal/protocol"
)

// cycle is the state of one dispatch cycle: opcode latched so far, payload
// byte count, terminal status and the scratch data buffer. count carries a
// -1 sentinel until the opcode byte has been consumed.
type cycle struct {
	cmd    protocol.Opcode
	count  int
	status protocol.Status
	data   [protocol.LEDCount * protocol.RecordSize]byte
}

// dispatch drains every byte currently available on the link in one pass,
// feeding each through the per-command state machine, then sends exactly
// one response frame. A transport read failure aborts the cycle without a
// response; the next burst starts from a fresh cycle either way.
func (d *Device) dispatch() {
	c := cycle{cmd: protocol.OpNone, count: -1, status: protocol.StatusInvalidDataLength}

	read := 0
	for d.link.Available() {
		b, err := d.link.ReadByte()
		if err != nil {
			d.logger.Error("link read failed", "error", err)
			return
		}
		read++
		d.logger.Debug("received", "byte", b)
		d.handleByte(&c, b)
		c.count++
	}
	d.logger.Debug("burst drained", "bytes", read, "opcode", c.cmd.String(), "status", c.status.String())

	d.respond(&c)
}

func (d *Device) handleByte(c *cycle, b byte) {
	// Once the cycle is poisoned by an unknown opcode, the rest of the
	// burst is drained off the wire without effect.
	if c.status == protocol.StatusInvalidCommand {
		d.logger.Debug("consuming extra data", "byte", b)
		return
	}

	switch c.cmd {
	case protocol.OpNone:
		if op := protocol.Opcode(b); op.Valid() {
			c.cmd = op
		} else {
			c.status = protocol.StatusInvalidCommand
		}
		if c.cmd != protocol.OpRead {
			return
		}
		// READ has no payload, so recognizing the opcode satisfies the
		// whole command: run the handler for this same byte with the
		// count forced to zero.
		c.count = 0
		d.handleRead(c, b)
	case protocol.OpRead:
		d.handleRead(c, b)
	case protocol.OpWrite:
		d.handleWrite(c, b)
	case protocol.OpWriteAll:
		d.handleWriteAll(c, b)
	}
}

// handleRead snapshots all LEDs into the outgoing data buffer. Valid only
// on entry with count zero; everything after that is extra data.
func (d *Device) handleRead(c *cycle, b byte) {
	if c.count < 0 {
		c.status = protocol.StatusInvalidState
		return
	}
	if c.count == 0 && (c.status == protocol.StatusInvalidDataLength || c.status == protocol.StatusOK) {
		for i := 0; i < protocol.LEDCount; i++ {
			off := i * protocol.RecordSize
			c.data[off] = byte(i)
			c.data[off+1] = d.colors[i].R
			c.data[off+2] = d.colors[i].G
			c.data[off+3] = d.colors[i].B
		}
		c.status = protocol.StatusOK
	} else {
		d.logger.Debug("consuming extra data", "byte", b)
	}
}

// handleWrite accumulates (id, r, g, b) records. Every completed record is
// validated and applied immediately, per record rather than batched.
func (d *Device) handleWrite(c *cycle, b byte) {
	if c.count < 0 {
		c.status = protocol.StatusInvalidState
		return
	}
	if c.count < len(c.data) && (c.status == protocol.StatusInvalidDataLength || c.status == protocol.StatusOK) {
		c.data[c.count] = b
		if c.count%protocol.RecordSize != protocol.RecordSize-1 {
			return
		}
		off := (c.count / protocol.RecordSize) * protocol.RecordSize
		id := c.data[off]
		color := protocol.Color{R: c.data[off+1], G: c.data[off+2], B: c.data[off+3]}
		if int(id) >= protocol.LEDCount {
			c.status = protocol.StatusLEDOutOfRange
			return
		}
		d.colors[id] = color
		d.sink.SetPixel(int(id), color)
		d.sink.Show()
		d.setMode(ModeBT)
		c.status = protocol.StatusOK
	} else {
		d.logger.Debug("consuming extra data", "byte", b)
	}
}

// handleWriteAll accumulates up to three payload bytes. The fill reruns on
// each of them with whatever has been stored so far, trailing channels
// reading as zero until received; the final byte leaves all LEDs at the
// requested color. Anything past the third byte is extra data.
func (d *Device) handleWriteAll(c *cycle, b byte) {
	if c.count < 0 {
		c.status = protocol.StatusInvalidState
		return
	}
	if c.count < 3 && (c.status == protocol.StatusInvalidDataLength || c.status == protocol.StatusOK) {
		c.data[c.count] = b
		color := protocol.Color{R: c.data[0], G: c.data[1], B: c.data[2]}
		for i := range d.colors {
			d.colors[i] = color
			d.sink.SetPixel(i, color)
		}
		d.sink.Show()
		d.setMode(ModeBT)
		c.status = protocol.StatusOK
	} else {
		d.logger.Debug("consuming extra data", "byte", b)
	}
}

// respond sends the single response frame for the finished cycle. READ is
// the only command whose success response carries data; every non-OK
// response carries none.
func (d *Device) respond(c *cycle) {
	var data []byte
	if c.status == protocol.StatusOK {
		switch c.cmd {
		case protocol.OpNone:
			// not reachable: OK is only ever set by a command handler
			d.logger.Warn("ok status without a command")
			return
		case protocol.OpRead:
			data = c.data[:]
		}
	}
	frame := protocol.EncodeResponse(c.cmd, c.status, data)
	if err := d.link.Write(frame); err != nil {
		d.logger.Error("response write failed", "error", err)
		return
	}
	d.logger.Debug("response sent",
		"opcode", c.cmd.String(),
		"status", c.status.String(),
		"data_len", len(data))
}
