package tickbitmap

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/bitmath"
)

var (
	// ErrWordNotLoaded signals that the word covering the requested tick has
	// not been fetched yet. It is a control-flow signal for the reconciler,
	// not a user-facing failure: absence of a word means "unknown", never
	// "empty".
	ErrWordNotLoaded = errors.New("tick bitmap word not loaded")

	// ErrTickNotSpaced is returned when a tick used as a liquidity boundary
	// is not a multiple of the pool's tick spacing.
	ErrTickNotSpaced = errors.New("tick not a multiple of tick spacing")
)

// NotLoadedError reports which word an operation was missing, so a fetcher
// can load exactly that region. It matches ErrWordNotLoaded under errors.Is.
type NotLoadedError struct {
	Word int16
}

func (e *NotLoadedError) Error() string { return fmt.Sprintf("tick bitmap word %d not loaded", e.Word) }
func (e *NotLoadedError) Unwrap() error { return ErrWordNotLoaded }

// Word is one 256-bit slice of the tick bitmap, together with the block at
// which it was last refreshed. A present Word with zero bits means "loaded
// and empty"; only an absent map entry means "not yet fetched".
type Word struct {
	Bits        *uint256.Int `json:"bits"`
	SyncedBlock uint64       `json:"syncedBlock"`
}

// Bitmap is the sparse, partially loaded tick bitmap of a single pool.
// Each entry is exclusively owned by the pool snapshot that holds it.
type Bitmap map[int16]Word

// Clone deep-copies the bitmap so a successor snapshot can mutate it freely.
func (b Bitmap) Clone() Bitmap {
	out := make(Bitmap, len(b))
	for pos, w := range b {
		out[pos] = Word{Bits: new(uint256.Int).Set(w.Bits), SyncedBlock: w.SyncedBlock}
	}
	return out
}

// compress maps a tick to its spacing-compressed index, flooring toward
// negative infinity. Native Go division truncates toward zero, which differs
// for negative ticks that are not spacing multiples; the emulated environment
// floors, so we must too.
func compress(tick, tickSpacing int64) int64 {
	compressed := tick / tickSpacing
	if tick < 0 && tick%tickSpacing != 0 {
		compressed--
	}
	return compressed
}

// Position returns the word index and bit index covering a tick.
func Position(tick, tickSpacing int64) (wordPos int16, bitPos uint8) {
	compressed := compress(tick, tickSpacing)
	wordPos = int16(compressed >> 8)
	bitPos = uint8(compressed - int64(wordPos)*256)
	return wordPos, bitPos
}

// SetWord stores a freshly fetched word. A nil bits value records a word the
// source reported as genuinely uninitialized (loaded and empty).
func (b Bitmap) SetWord(wordPos int16, bits *uint256.Int, syncedBlock uint64) {
	if bits == nil {
		bits = new(uint256.Int)
	}
	b[wordPos] = Word{Bits: bits, SyncedBlock: syncedBlock}
}

// IsInitialized reports whether the tick's bit is set. The containing word
// must already be loaded.
func (b Bitmap) IsInitialized(tick, tickSpacing int64) (bool, error) {
	wordPos, bitPos := Position(tick, tickSpacing)
	word, ok := b[wordPos]
	if !ok {
		return false, &NotLoadedError{Word: wordPos}
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
	return !new(uint256.Int).And(word.Bits, mask).IsZero(), nil
}

// FlipTick toggles the initialized state of a tick. The tick must be a
// spacing multiple and its word must be loaded; flipping a bit inside an
// unfetched word would silently invent knowledge the replica does not have.
func (b Bitmap) FlipTick(tick, tickSpacing int64) error {
	if rem := tick % tickSpacing; rem != 0 {
		return fmt.Errorf("%w: tick %d, spacing %d", ErrTickNotSpaced, tick, tickSpacing)
	}
	wordPos, bitPos := Position(tick, tickSpacing)
	word, ok := b[wordPos]
	if !ok {
		return &NotLoadedError{Word: wordPos}
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
	word.Bits.Xor(word.Bits, mask)
	b[wordPos] = word
	return nil
}

// NextInitializedTickWithinOneWord scans for the next set bit starting from
// tick, within the word that covers it.
//
// If lte is true the search runs left (toward lower prices) and includes the
// starting tick; otherwise it runs right and excludes it. When the word holds
// no set bit in the requested direction, the returned tick is the word
// boundary and initialized is false, letting the caller resume the scan in
// the adjacent word on the next step. An unfetched word yields
// ErrWordNotLoaded.
func (b Bitmap) NextInitializedTickWithinOneWord(tick, tickSpacing int64, lte bool) (next int64, initialized bool, err error) {
	compressed := compress(tick, tickSpacing)

	if lte {
		wordPos, bitPos := Position(tick, tickSpacing)
		word, ok := b[wordPos]
		if !ok {
			return 0, false, &NotLoadedError{Word: wordPos}
		}

		// All bits at or below bitPos.
		mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
		mask.Add(mask, new(uint256.Int).Sub(mask, uint256.NewInt(1)))
		masked := new(uint256.Int).And(word.Bits, mask)

		if masked.IsZero() {
			// No initialized tick at or below; stop at the word's low edge.
			next = (compressed - int64(bitPos)) * tickSpacing
			return next, false, nil
		}

		msb, err := bitmath.MostSignificantBit(masked)
		if err != nil {
			return 0, false, err
		}
		next = (compressed - int64(bitPos) + int64(msb)) * tickSpacing
		return next, true, nil
	}

	// Search to the right starts one past the current tick.
	compressedNext := compressed + 1
	wordPos := int16(compressedNext >> 8)
	bitPosNext := uint8(compressedNext - int64(wordPos)*256)

	word, ok := b[wordPos]
	if !ok {
		return 0, false, &NotLoadedError{Word: wordPos}
	}

	// All bits at or above bitPosNext.
	low := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPosNext)), uint256.NewInt(1))
	mask := new(uint256.Int).Not(low)
	masked := new(uint256.Int).And(word.Bits, mask)

	if masked.IsZero() {
		// No initialized tick above; stop at the word's high edge.
		next = (compressedNext + int64(255-bitPosNext)) * tickSpacing
		return next, false, nil
	}

	lsb, err := bitmath.LeastSignificantBit(masked)
	if err != nil {
		return 0, false, err
	}
	next = (compressedNext + int64(lsb) - int64(bitPosNext)) * tickSpacing
	return next, true, nil
}
