package ecmailbox

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/distributed/ecat/ecbus"
	"github.com/distributed/ecat/ecfr"
)

// pollInterval is the spacing Upload/Download use between send/receive
// cycles while waiting for a transfer to finish.
const pollInterval = 1 * time.Millisecond

// transferTimeout bounds how long a single Upload/Download call will
// poll before giving up; a slave that never answers otherwise hangs its
// caller forever.
const transferTimeout = 5 * time.Second

// queued pairs a message with the 1..7 mailbox counter its outstanding
// request went out under. receive does not match replies by this counter;
// it offers each reply to the messages on to_process in turn.
type queued struct {
	msg     message
	counter uint8
}

// Mailbox is C5's per-slave transport: it owns the to_send/to_process
// queues spec.md §4.5 names and drives them over a slave's standard
// mailbox sync managers using the same LinkPipeline the bus controller's
// register traffic flows through.
type Mailbox struct {
	slave *ecbus.Slave
	link  *ecbus.LinkPipeline

	toSend    []queued
	toProcess []queued

	counter uint8

	// Emergencies accumulates CoE emergency frames nobody's outstanding
	// request claimed, per spec.md §4.5's unsolicited-traffic handling.
	Emergencies []Emergency
}

// NewMailbox returns a Mailbox for slave, issuing its FPWR/FPRD traffic
// through link. slave must already have its Standard mailbox fields
// populated by ecbus.Bus.Init (EEPROM readout).
func NewMailbox(slave *ecbus.Slave, link *ecbus.LinkPipeline) *Mailbox {
	return &Mailbox{slave: slave, link: link}
}

// nextCounter cycles 1..7, skipping 0: EtherCAT CoE mailbox counters are a
// 3 bit field and 0 is reserved for "don't care", per spec.md §6.
func (m *Mailbox) nextCounter() uint8 {
	m.counter = m.counter%7 + 1
	return m.counter
}

func buildMailboxHeader(bodyLen int, counter uint8) []byte {
	h := make([]byte, mailboxHeaderLen)
	binary.LittleEndian.PutUint16(h[0:2], uint16(bodyLen))
	h[4] = 0x00
	h[5] = byte(TypeCoE)<<4 | counter&0x0f
	return h
}

func parseMailboxHeader(b []byte) (bodyLen int, mtype byte, counter uint8, ok bool) {
	if len(b) < mailboxHeaderLen {
		return 0, 0, 0, false
	}
	bodyLen = int(binary.LittleEndian.Uint16(b[0:2]))
	mtype = b[5] >> 4
	counter = b[5] & 0x0f
	return bodyLen, mtype, counter, true
}

// enqueue adds msg to to_send; it will go out on the Mailbox's next send.
func (m *Mailbox) enqueue(msg message) {
	m.toSend = append(m.toSend, queued{msg: msg})
}

// send issues the request of the message at the head of to_send, if any,
// then moves it to to_process to await a reply.
func (m *Mailbox) send() error {
	if len(m.toSend) == 0 {
		return nil
	}
	q := m.toSend[0]
	m.toSend = m.toSend[1:]

	body := q.msg.request()
	q.counter = m.nextCounter()

	frame := make([]byte, 0, mailboxHeaderLen+len(body))
	frame = append(frame, buildMailboxHeader(len(body), q.counter)...)
	frame = append(frame, body...)

	m.link.Clear()
	dgaddr := ecfr.CreateAddress(int16(m.slave.StationAddress), m.slave.Standard.RecvOffset)
	if _, err := m.link.AddDatagram(0, ecfr.FPWR, dgaddr, frame, len(frame)); err != nil {
		return err
	}
	if err := m.link.ProcessFrames(); err != nil {
		return err
	}
	if _, err := m.link.NextDatagram(); err != nil {
		return err
	}

	m.toProcess = append(m.toProcess, q)
	return nil
}

// receive polls the slave's outgoing mailbox and, if a reply is waiting,
// offers its CoE payload to each message on to_process in turn until one
// claims it (everything else is a Noop). A reply nobody claims and whose
// service is CoE emergency is recorded to Emergencies.
func (m *Mailbox) receive() error {
	if m.slave.Standard.SendSize == 0 {
		return nil
	}

	m.link.Clear()
	dgaddr := ecfr.CreateAddress(int16(m.slave.StationAddress), m.slave.Standard.SendOffset)
	if _, err := m.link.AddDatagram(0, ecfr.FPRD, dgaddr, nil, int(m.slave.Standard.SendSize)); err != nil {
		return err
	}
	if err := m.link.ProcessFrames(); err != nil {
		return err
	}
	dg, err := m.link.NextDatagram()
	if err != nil {
		return err
	}
	if dg.WorkingCounter == 0 {
		return nil
	}

	raw := dg.Data()
	bodyLen, mtype, _, ok := parseMailboxHeader(raw)
	if !ok || mtype != TypeCoE {
		return nil
	}
	if mailboxHeaderLen+bodyLen > len(raw) {
		return nil
	}
	payload := raw[mailboxHeaderLen : mailboxHeaderLen+bodyLen]
	if len(payload) < coeHeaderLen {
		return nil
	}

	for i, q := range m.toProcess {
		result := q.msg.process(payload)
		switch result {
		case ResultNoop:
			continue
		case ResultContinue:
			m.toProcess = append(m.toProcess[:i], m.toProcess[i+1:]...)
			q.counter = m.nextCounter()
			m.toSend = append(m.toSend, q)
		case ResultFinalize:
			m.toProcess = append(m.toProcess[:i], m.toProcess[i+1:]...)
		case ResultFinalizeAndKeep:
			// stays on to_process as-is.
		}
		return nil
	}

	if len(payload) >= coeHeaderLen && coeService(payload) == coeServiceEmergency {
		m.Emergencies = append(m.Emergencies, parseEmergency(payload[coeHeaderLen:], m.slave.StationAddress))
	}

	return nil
}

// Cycle drives one send/receive pair; spec.md §4.5 expects the bus's
// cycle driver to call this once per bus cycle so mailbox traffic shares
// the same link pipeline as process data without a second socket.
func (m *Mailbox) Cycle() error {
	if err := m.send(); err != nil {
		return err
	}
	return m.receive()
}

// run drives Cycle until msg reaches a terminal status or timeout
// elapses, for the blocking Upload/Download helpers below.
func (m *Mailbox) run(msg message, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := m.Cycle(); err != nil {
			return err
		}
		if msg.status().Terminal() {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("ecmailbox: transfer timed out")
		}
		time.Sleep(pollInterval)
	}
}

// Upload runs a complete SDO upload (read), expedited or segmented as the
// slave's response dictates, blocking until it completes or times out.
// buf bounds how many bytes can be read back; the return value is the
// number of bytes actually written into buf.
func (m *Mailbox) Upload(index uint16, subindex uint8, completeAccess bool, buf []byte) (int, error) {
	size := len(buf)
	t := createSDO(index, subindex, completeAccess, Upload, buf, &size)
	m.enqueue(t)
	if err := m.run(t, transferTimeout); err != nil {
		return 0, err
	}
	return size, t.err(m.slave.StationAddress)
}

// Download runs a complete SDO download (write) of data, blocking until
// it completes or times out.
func (m *Mailbox) Download(index uint16, subindex uint8, completeAccess bool, data []byte) error {
	size := len(data)
	t := createSDO(index, subindex, completeAccess, Download, data, &size)
	m.enqueue(t)
	if err := m.run(t, transferTimeout); err != nil {
		return err
	}
	return t.err(m.slave.StationAddress)
}
