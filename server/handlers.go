package server

import (
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/protocol"
)

func (s *Server) handleRead() error {
	addr, length, err := s.readRange()
	if err != nil {
		s.reply(protocol.Nack)
		return err
	}
	glog.V(1).Infof("read 0x%06X+%d", addr, length)
	if err := s.fr.WriteByte(protocol.Ack); err != nil {
		return err
	}

	// Data is already streaming, so a failure here can only cut it short.
	return spiprog.ForEachChunk(addr, length, s.cfg.ChunkSize, 0, func(a uint32, n int) error {
		chunk := s.buf[:n]
		if err := s.flash.ReadChunk(a, chunk); err != nil {
			return errors.Wrapf(err, "read 0x%06X", a)
		}
		return s.fr.Write(chunk)
	})
}

func (s *Server) handleWrite() error {
	addr, length, err := s.readRange()
	if err != nil {
		s.reply(protocol.Nack)
		return err
	}
	glog.V(1).Infof("write 0x%06X+%d", addr, length)
	if err := s.fr.WriteByte(protocol.Ack); err != nil {
		return err
	}

	var consumed uint32
	err = spiprog.ForEachChunk(addr, length, s.cfg.ChunkSize, spiprog.MaxChunk, func(a uint32, n int) error {
		chunk := s.buf[:n]
		got, err := s.fr.Fill(chunk)
		consumed += uint32(got)
		if err != nil {
			return errors.Wrapf(err, "payload at 0x%06X", a)
		}
		glog.V(2).Infof("program 0x%06X+%d", a, n)
		if err := s.flash.PageProgram(a, chunk); err != nil {
			return errors.Wrapf(err, "program 0x%06X", a)
		}
		return nil
	})
	if err != nil {
		// Swallow the rest of the payload so it is not parsed as commands.
		if derr := s.fr.Discard(length - consumed); derr != nil {
			glog.Warningf("write: discarding payload: %v", derr)
		}
		s.flushInput()
		s.reply(protocol.Nack)
		return err
	}
	s.reply(protocol.Ack)
	return nil
}

func (s *Server) handleErase() error {
	glog.V(1).Info("erase chip")
	if err := s.flash.EraseChip(); err != nil {
		s.reply(protocol.Nack)
		return errors.Wrap(err, "chip erase")
	}
	s.reply(protocol.Ack)
	return nil
}

func (s *Server) handleDetect() error {
	id, name, err := s.flash.ReadID()
	if err != nil {
		s.reply(protocol.Nack)
		return errors.Wrap(err, "read JEDEC ID")
	}
	capacity := spiprog.ResolveCapacity(id, s.cfg.CapacityRules)
	glog.V(1).Infof("detect %X %q capacity %d", id, name, capacity)

	resp := make([]byte, 0, protocol.DetectResponseSize)
	resp = append(resp, id[:]...)
	resp = binary.LittleEndian.AppendUint32(resp, capacity)
	return s.fr.Write(resp)
}
