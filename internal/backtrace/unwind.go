package backtrace

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/didi/halttrace/pkg/target"
)

// MaxFrames is the default unwind iteration cap. Cyclic frame records in
// corrupted memory end here.
const MaxFrames = 256

// ARMv7-M / ARMv8-M conventions.
const (
	regR7 = uint64(target.R7)
	regSP = uint64(target.SP)
	regLR = uint64(target.LR)
	regPC = uint64(target.PC)

	thumbBit = 1
	// LR holds this value out of reset, the root of every call chain.
	resetLR = 0xFFFFFFFF
	// Return addresses matching this mask are EXC_RETURN values.
	excReturnMarker = 0xFFFFFFE0
	// EXC_RETURN bit 4 is clear when the extended (FPU) frame was stacked.
	excReturnFType = 1 << 4
	// Stacked xPSR bit 9 is set when the frame was realigned by 4 bytes.
	xpsrStkAlign = 1 << 9

	basicFrameSize    = 0x20
	extendedFrameSize = 0x68
)

var errCorrupted = errors.New("call stack is corrupted")

type registers map[uint64]uint64

func (r registers) clone() registers {
	c := make(registers, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

func isExcReturn(addr uint64) bool {
	return addr&excReturnMarker == excReturnMarker && addr != resetLR
}

type unwinder struct {
	core      target.Core
	img       Image
	ram       *target.RAMRegion
	logger    zerolog.Logger
	maxFrames int
}

// Unwind walks the call stack of the halted core, innermost frame first.
// It never fails: problems are reported through the returned FrameStore.
func Unwind(core target.Core, img Image, ram *target.RAMRegion, options ...Option) *FrameStore {
	opts := NewDefaultOptions()
	for _, opt := range options {
		opt(opts)
	}
	u := &unwinder{
		core:      core,
		img:       img,
		ram:       ram,
		logger:    opts.Logger,
		maxFrames: opts.MaxFrames,
	}
	if u.maxFrames <= 0 {
		u.maxFrames = MaxFrames
	}
	return u.run()
}

func (u *unwinder) run() *FrameStore {
	store := &FrameStore{}
	regs, err := u.readRegisters()
	if err != nil {
		store.ProcessingError = err
		return store
	}

	// stop records f as the last frame and classifies err.
	stop := func(f RawFrame, err error) *FrameStore {
		store.Frames = append(store.Frames, f)
		if err == nil {
			return store
		}
		if errors.Is(err, errCorrupted) {
			u.logger.Debug().Err(err).Int("frames", len(store.Frames)).Msg("unwinding stopped")
			store.Corrupted = true
		} else {
			u.logger.Debug().Err(err).Int("frames", len(store.Frames)).Msg("unwinding failed")
			store.ProcessingError = err
		}
		return store
	}

	for {
		if len(store.Frames) >= u.maxFrames {
			u.logger.Debug().Int("max_frames", u.maxFrames).Msg("unwinding reached the frame limit")
			store.Corrupted = true
			return store
		}

		f := RawFrame{
			PC: regs[regPC],
			SP: regs[regSP],
			LR: regs[regLR],
			FP: regs[regR7],
		}
		if u.ram != nil && !u.ram.Contains(f.SP) {
			return stop(f, errors.Wrapf(errCorrupted, "stack pointer 0x%08x is outside RAM", f.SP))
		}

		caller, ra, cfaChanged, err := u.callerRegisters(regs)
		if err != nil {
			return stop(f, err)
		}

		switch {
		case ra == resetLR || ra&^thumbBit == u.img.EntryPoint():
			return stop(f, nil)

		case isExcReturn(ra):
			f.IsExceptionFrame = true
			f.Fault = u.img.IsFaultHandler(f.PC)
			caller, err = u.unstack(caller, ra)
			if err != nil {
				return stop(f, err)
			}

		case !cfaChanged && ra&^thumbBit == f.PC:
			return stop(f, errors.Wrapf(errCorrupted, "frame at 0x%08x returns to itself", f.PC))

		default:
			caller[regPC] = ra &^ thumbBit
		}

		if err := u.checkCaller(f, caller); err != nil {
			return stop(f, err)
		}
		store.Frames = append(store.Frames, f)
		regs = caller
	}
}

// readRegisters captures the core registers. SP, LR and PC are required,
// any other register that cannot be read stays undefined.
func (u *unwinder) readRegisters() (registers, error) {
	regs := registers{}
	for reg := uint16(0); reg < target.NumCoreRegs; reg++ {
		val, err := u.core.ReadCoreReg(reg)
		if err != nil {
			if isRequiredReg(reg) {
				return nil, errors.Wrapf(err, "read register r%d", reg)
			}
			u.logger.Debug().Err(err).Uint16("reg", reg).Msg("register is undefined")
			continue
		}
		regs[uint64(reg)] = uint64(val)
	}
	regs[regPC] &^= thumbBit
	return regs, nil
}

func isRequiredReg(reg uint16) bool {
	return reg == target.SP || reg == target.LR || reg == target.PC
}

// callerRegisters computes the registers of the calling frame and the
// return address. cfaChanged is false when the caller's stack pointer
// equals the current one.
func (u *unwinder) callerRegisters(regs registers) (registers, uint64, bool, error) {
	pc := regs[regPC]
	ctx, err := u.img.UnwindContext(pc)
	if err != nil {
		return nil, 0, false, err
	}
	if ctx == nil {
		u.logger.Debug().Uint64("pc", pc).Msg("no call frame information, following the frame pointer")
		return u.framePointerStep(regs)
	}
	return u.cfiStep(regs, ctx)
}

func (u *unwinder) cfiStep(regs registers, ctx *frame.FrameContext) (registers, uint64, bool, error) {
	pc := regs[regPC]
	if ctx.CFA.Rule != frame.RuleCFA {
		return nil, 0, false, errors.Errorf("unsupported CFA rule %d at 0x%08x", ctx.CFA.Rule, pc)
	}
	base, ok := regs[ctx.CFA.Reg]
	if !ok {
		return nil, 0, false, errors.Wrapf(errCorrupted, "CFA register r%d is undefined at 0x%08x", ctx.CFA.Reg, pc)
	}
	cfa := uint64(int64(base) + ctx.CFA.Offset)

	caller := regs.clone()
	// fixed order keeps the reported read error deterministic
	regNums := lo.Keys(ctx.Regs)
	sort.Slice(regNums, func(i, j int) bool { return regNums[i] < regNums[j] })
	for _, reg := range regNums {
		rule := ctx.Regs[reg]
		switch rule.Rule {
		case frame.RuleUndefined:
			delete(caller, reg)
		case frame.RuleSameVal:
		case frame.RuleOffset:
			val, err := u.readWord(uint64(int64(cfa) + rule.Offset))
			if err != nil {
				return nil, 0, false, err
			}
			caller[reg] = val
		case frame.RuleValOffset:
			caller[reg] = uint64(int64(cfa) + rule.Offset)
		case frame.RuleRegister:
			val, ok := regs[rule.Reg]
			if !ok {
				delete(caller, reg)
				continue
			}
			caller[reg] = val
		default:
			return nil, 0, false, errors.Errorf("unsupported rule %d for r%d at 0x%08x", rule.Rule, reg, pc)
		}
	}
	caller[regSP] = cfa

	ra, ok := caller[ctx.RetAddrReg]
	if !ok {
		// an undefined return address marks the outermost frame
		ra = resetLR
	}
	return caller, ra, cfa != regs[regSP], nil
}

// framePointerStep follows the Thumb frame record: r7 points at the saved
// {r7, lr} pair pushed by the prologue.
func (u *unwinder) framePointerStep(regs registers) (registers, uint64, bool, error) {
	fp, sp := regs[regR7], regs[regSP]
	if fp == 0 || fp < sp {
		return nil, 0, false, errors.Wrapf(errCorrupted, "stale frame pointer 0x%08x (sp 0x%08x)", fp, sp)
	}
	if u.ram != nil && (!u.ram.Contains(fp) || !u.ram.Contains(fp+8)) {
		return nil, 0, false, errors.Wrapf(errCorrupted, "frame pointer 0x%08x is outside RAM", fp)
	}

	prevFP, err := u.readWord(fp)
	if err != nil {
		return nil, 0, false, err
	}
	ra, err := u.readWord(fp + 4)
	if err != nil {
		return nil, 0, false, err
	}

	caller := regs.clone()
	caller[regR7] = prevFP
	caller[regLR] = ra
	caller[regSP] = fp + 8
	return caller, ra, true, nil
}

// unstack recovers the interrupted context from the frame the hardware
// pushed on exception entry.
func (u *unwinder) unstack(regs registers, excReturn uint64) (registers, error) {
	sp := regs[regSP]
	var buf [basicFrameSize]byte
	if err := u.read(sp, buf[:]); err != nil {
		return nil, err
	}
	word := func(i int) uint64 {
		return uint64(binary.LittleEndian.Uint32(buf[4*i:]))
	}

	caller := regs.clone()
	for i := 0; i < 4; i++ {
		caller[uint64(i)] = word(i)
	}
	caller[uint64(target.R12)] = word(4)
	caller[regLR] = word(5)
	caller[regPC] = word(6) &^ thumbBit

	size := uint64(basicFrameSize)
	if excReturn&excReturnFType == 0 {
		size = extendedFrameSize
	}
	if word(7)&xpsrStkAlign != 0 {
		size += 4
	}
	caller[regSP] = sp + size
	return caller, nil
}

func (u *unwinder) checkCaller(f RawFrame, caller registers) error {
	pc, sp := caller[regPC], caller[regSP]
	if !u.img.IsCode(pc) {
		return errors.Wrapf(errCorrupted, "return address 0x%08x is outside code", pc)
	}
	if sp < f.SP {
		return errors.Wrapf(errCorrupted, "caller stack pointer 0x%08x is below 0x%08x", sp, f.SP)
	}
	if u.ram != nil && !u.ram.Contains(sp) {
		return errors.Wrapf(errCorrupted, "caller stack pointer 0x%08x is outside RAM", sp)
	}
	return nil
}

func (u *unwinder) readWord(addr uint64) (uint64, error) {
	var buf [4]byte
	if err := u.read(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint64(binary.LittleEndian.Uint32(buf[:])), nil
}

func (u *unwinder) read(addr uint64, buf []byte) error {
	if addr > math.MaxUint32-uint64(len(buf))+1 {
		return errors.Wrapf(errCorrupted, "address %#x is outside the address space", addr)
	}
	if err := u.core.ReadMemory(uint32(addr), buf); err != nil {
		return errors.Wrapf(err, "read %d bytes at 0x%08x", len(buf), addr)
	}
	return nil
}
