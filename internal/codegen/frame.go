package codegen

import (
	"fortio.org/safecast"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/target"
)

func alignTo(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// lowerFrame lays out stack slots, sizes the frame and inserts the
// prologue and epilogue. Slot offsets are relative to the stack pointer
// after the prologue; a link slot for the return address comes first in
// functions that call.
func lowerFrame(tgt *target.Target, mf *MFunc) {
	offset := 0
	if mf.HasCalls {
		offset = tgt.PtrBits() / 8
	}
	for i := range mf.Slots {
		sl := &mf.Slots[i]
		if sl.Size <= 0 {
			fatal.Reportf("Frame lowering: slot %d of @%s has size %d", i, mf.Name, sl.Size)
		}
		offset = alignTo(offset, sl.Align)
		sl.Offset = offset
		offset += sl.Size
	}
	size := alignTo(offset, tgt.Arch.StackAlign)
	if _, err := safecast.Conv[int32](size); err != nil {
		fatal.Reportf("Frame lowering: frame of @%s is too large: %v", mf.Name, err)
	}
	mf.FrameSize = size
	if size == 0 || len(mf.Blocks) == 0 {
		return
	}

	adjust := func(op string) *MInstr {
		return &MInstr{Op: op, Width: tgt.PtrBits(), Uses: []MOperand{immOp(int64(size))}}
	}
	entry := mf.Blocks[0]
	entry.Instrs = append([]*MInstr{adjust("subsp")}, entry.Instrs...)
	for _, mb := range mf.Blocks {
		out := make([]*MInstr, 0, len(mb.Instrs)+1)
		for _, mi := range mb.Instrs {
			if mi.Op == "ret" {
				out = append(out, adjust("addsp"))
			}
			out = append(out, mi)
		}
		mb.Instrs = out
	}
}
