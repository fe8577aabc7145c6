package target

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Snapshot is the state of a halted core captured by a debug probe.
//
// The file format is YAML:
//
//	probe: 0483:374b:0669FF555052836687031231
//	registers:
//	  r0: 0x00000000
//	  sp: 0x2000ffd0
//	  lr: 0xfffffff9
//	  pc: 0x000004d2
//	ram:
//	  start: 0x20000000
//	  end: 0x20010000
//	memory:
//	  - address: 0x2000ffd0
//	    data: "d0ff0020..."
type Snapshot struct {
	Probe  string
	RAM    *RAMRegion
	regs   map[uint16]uint32
	blocks []block
}

type block struct {
	addr uint32
	data []byte
}

type snapshotFile struct {
	Probe     string            `yaml:"probe"`
	Registers map[string]string `yaml:"registers"`
	RAM       *struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"ram"`
	Memory []struct {
		Address string `yaml:"address"`
		Data    string `yaml:"data"`
	} `yaml:"memory"`
}

var regNames = map[string]uint16{
	"sp": SP,
	"lr": LR,
	"pc": PC,
	"fp": R7,
	"ip": R12,
}

// LoadSnapshot reads a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	s, err := ParseSnapshot(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse snapshot %s", path)
	}
	return s, nil
}

// ParseSnapshot decodes a YAML snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var f snapshotFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	s := &Snapshot{
		Probe: f.Probe,
		regs:  map[uint16]uint32{},
	}
	for name, val := range f.Registers {
		reg, err := parseRegName(name)
		if err != nil {
			return nil, err
		}
		v, err := parseAddr(val)
		if err != nil {
			return nil, errors.Wrapf(err, "register %s", name)
		}
		s.regs[reg] = uint32(v)
	}

	if f.RAM != nil {
		start, err := parseAddr(f.RAM.Start)
		if err != nil {
			return nil, errors.Wrap(err, "ram.start")
		}
		end, err := parseAddr(f.RAM.End)
		if err != nil {
			return nil, errors.Wrap(err, "ram.end")
		}
		if end < start {
			return nil, fmt.Errorf("ram.end %#x is below ram.start %#x", end, start)
		}
		s.RAM = &RAMRegion{Start: start, End: end}
	}

	for i, m := range f.Memory {
		addr, err := parseAddr(m.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "memory[%d].address", i)
		}
		raw, err := hex.DecodeString(strings.Join(strings.Fields(m.Data), ""))
		if err != nil {
			return nil, errors.Wrapf(err, "memory[%d].data", i)
		}
		s.AddMemory(uint32(addr), raw)
	}
	return s, nil
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{regs: map[uint16]uint32{}}
}

// SetReg sets a core register.
func (s *Snapshot) SetReg(reg uint16, val uint32) {
	s.regs[reg] = val
}

// AddMemory adds a block of memory at addr. Blocks added later shadow
// earlier ones.
func (s *Snapshot) AddMemory(addr uint32, data []byte) {
	s.blocks = append(s.blocks, block{addr: addr, data: data})
}

// AddWords adds little endian 32-bit words at addr.
func (s *Snapshot) AddWords(addr uint32, words ...uint32) {
	data := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[4*i:], w)
	}
	s.AddMemory(addr, data)
}

// ReadCoreReg implements Core.
func (s *Snapshot) ReadCoreReg(reg uint16) (uint32, error) {
	val, ok := s.regs[reg]
	if !ok {
		return 0, fmt.Errorf("register r%d was not captured", reg)
	}
	return val, nil
}

// ReadMemory implements Core. The whole range must be covered by a single
// captured block.
func (s *Snapshot) ReadMemory(addr uint32, buf []byte) error {
	// later blocks override earlier ones
	for i := len(s.blocks) - 1; i >= 0; i-- {
		b := s.blocks[i]
		if addr < b.addr {
			continue
		}
		off := uint64(addr - b.addr)
		if off+uint64(len(buf)) > uint64(len(b.data)) {
			continue
		}
		copy(buf, b.data[off:])
		return nil
	}
	return errors.Wrapf(ErrUnmapped, "read %d bytes at 0x%08x", len(buf), addr)
}

func parseRegName(name string) (uint16, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if reg, ok := regNames[name]; ok {
		return reg, nil
	}
	if strings.HasPrefix(name, "r") {
		n, err := strconv.ParseUint(name[1:], 10, 16)
		if err == nil && n < NumCoreRegs {
			return uint16(n), nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", name)
}

func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 32)
}
