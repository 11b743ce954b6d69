// Command ecmaster brings an EtherCAT ring up to PRE_OP over a raw
// Ethernet interface and exercises each CoE-capable slave's mailbox,
// logging what it finds. It is a demonstration of the ecbus/ecmailbox
// packages, not a production master.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecbus"
	"github.com/distributed/ecat/eclog"
	"github.com/distributed/ecat/ecee"
	"github.com/distributed/ecat/ecmailbox"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ll/raw"
)

var log = eclog.For("ecmaster")

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: ecmaster <config.yaml>\n")
		os.Exit(2)
	}

	cfg, err := loadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("config")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		eclog.SetLevel(level)
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("ecmaster")
	}
}

func run(cfg *Config) error {
	sock, err := raw.NewSocket(cfg.Interface)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Interface, err)
	}
	defer sock.Close()

	if err := sock.SetTimeout(cfg.Cycle.timeout()); err != nil {
		return fmt.Errorf("setting socket timeout: %w", err)
	}

	bus := ecbus.NewBus(sock, cfg.ExpectedSlaves)

	log.WithField("interface", cfg.Interface).Info("bringing ring up")
	if err := bus.Init(); err != nil {
		return fmt.Errorf("bus init: %w", err)
	}

	slaves := bus.Slaves()
	log.WithField("slaves", len(slaves)).Info("ring is in PRE_OP")

	for i, s := range slaves {
		name := s.Name
		if i < len(cfg.Slaves) {
			s.Name = cfg.Slaves[i].Name
			name = s.Name
		}
		log.WithFields(logrus.Fields{
			"station":  fmt.Sprintf("%#04x", s.StationAddress),
			"name":     name,
			"vendor":   fmt.Sprintf("%#08x", s.VendorID),
			"product":  fmt.Sprintf("%#08x", s.ProductCode),
			"coe":      s.SupportsCoE(),
			"eeprom_b": s.EEPROMSize,
		}).Info("slave")
	}

	if err := bus.CheckMailboxes(); err != nil {
		return fmt.Errorf("checking mailboxes: %w", err)
	}

	for _, s := range slaves {
		if !s.SupportsCoE() {
			continue
		}
		mbx := ecmailbox.NewMailbox(s, bus.Link())
		runner := ecmailbox.NewRunner(mbx, cfg.Cycle.interval())
		probeIdentity(runner, s)
		if err := runner.Stop(); err != nil {
			log.WithError(err).Warn("mailbox runner stop")
		}
	}

	// Re-read each slave's serial number over the single-command diagnostic
	// path rather than the bulk bring-up readout already folded into
	// bus.Init, and log it, as a smoke test of ecee's ad-hoc EEPROM
	// interface; the value is not compared with the one bus.Init read.
	cf := ecmd.NewCommandFramer(raw.NewFramer(sock, cfg.Cycle.timeout()))
	for _, s := range slaves {
		dumpSerialNumber(cf, s)
	}

	return nil
}

func dumpSerialNumber(cf *ecmd.CommandFramer, s *ecbus.Slave) {
	station := fmt.Sprintf("%#04x", s.StationAddress)

	ee, err := ecee.New(cf, s.StationAddress)
	if err != nil {
		log.WithError(err).WithField("station", station).Warn("eeprom diagnostic open failed")
		return
	}
	defer ee.Close()

	word, err := ee.ReadWord(ecee.WordSerialNumber)
	if err != nil {
		log.WithError(err).WithField("station", station).Warn("eeprom diagnostic read failed")
		return
	}
	log.WithFields(logrus.Fields{"station": station, "serial_word": fmt.Sprintf("%#04x", word)}).
		Info("eeprom diagnostic readback")
}

// probeIdentity reads object 0x1018 subindex 1 (vendor ID), a CoE object
// every CANopen-derived device dictionary carries, as a smoke test that
// the slave's mailbox round trips.
func probeIdentity(runner *ecmailbox.Runner, s *ecbus.Slave) {
	buf := make([]byte, 4)
	n, err := runner.Upload(0x1018, 0x01, false, buf)
	if err != nil {
		log.WithError(err).WithField("station", fmt.Sprintf("%#04x", s.StationAddress)).
			Warn("sdo upload failed")
		return
	}
	log.WithFields(logrus.Fields{
		"station": fmt.Sprintf("%#04x", s.StationAddress),
		"bytes":   n,
	}).Info("identity object read")
}
