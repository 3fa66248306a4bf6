package execengine

import (
	"encoding/binary"
	"fmt"
	"io"
)

// backChannel message tags. Fixed one-byte tag plus a small fixed
// payload, avoiding reflection/allocation in the signal-adjacent hot
// path.
const (
	msgStarted byte = iota
	msgExecFailed
	msgStopped
	msgForeground
	msgBackground
)

// BackChannelMsg is one decoded back-channel message.
type BackChannelMsg struct {
	Tag   byte
	PID   int32 // msgStarted
	Errno int32 // msgExecFailed
}

func writeMsg(w io.Writer, m BackChannelMsg) error {
	buf := make([]byte, 1+4)
	buf[0] = m.Tag
	switch m.Tag {
	case msgStarted:
		binary.LittleEndian.PutUint32(buf[1:], uint32(m.PID))
	case msgExecFailed:
		binary.LittleEndian.PutUint32(buf[1:], uint32(m.Errno))
	}
	_, err := w.Write(buf)
	return err
}

func readMsg(r io.Reader) (BackChannelMsg, error) {
	buf := make([]byte, 1+4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return BackChannelMsg{}, err
	}
	m := BackChannelMsg{Tag: buf[0]}
	switch m.Tag {
	case msgStarted:
		m.PID = int32(binary.LittleEndian.Uint32(buf[1:]))
	case msgExecFailed:
		m.Errno = int32(binary.LittleEndian.Uint32(buf[1:]))
	case msgStopped, msgForeground, msgBackground:
	default:
		return BackChannelMsg{}, fmt.Errorf("execengine: unknown back-channel tag %d", m.Tag)
	}
	return m, nil
}
