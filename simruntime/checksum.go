package simruntime

import (
	"context"
	"encoding/binary"
	"hash"
	"hash/fnv"
	"log/slog"
)

// A checksummer folds every scheduling decision into a running hash. Two runs
// of the same scenario with the same seed must end with equal sums.
type checksummer struct {
	step    int
	hash    hash.Hash64
	scratch []byte
	logger  *slog.Logger
}

func newChecksummer(logger *slog.Logger) *checksummer {
	return &checksummer{
		hash:   fnv.New64(),
		logger: logger,
	}
}

type checksumKey byte

const (
	checksumKeyRunPick checksumKey = iota
	checksumKeyTimeNow
	checksumKeyTimerFired
	checksumKeyEvent
)

func (k checksumKey) String() string {
	switch k {
	case checksumKeyRunPick:
		return "runpick"
	case checksumKeyTimeNow:
		return "timenow"
	case checksumKeyTimerFired:
		return "timerfired"
	case checksumKeyEvent:
		return "event"
	default:
		return "unknown"
	}
}

func (t *checksummer) recordIntInt(key checksumKey, a, b uint64) {
	t.scratch = append(t.scratch[:0], byte(key))
	t.scratch = binary.AppendUvarint(t.scratch, a)
	t.scratch = binary.AppendUvarint(t.scratch, b)
	t.hash.Write(t.scratch)

	if t.logger.Enabled(context.TODO(), slog.LevelDebug-4) {
		t.logger.LogAttrs(context.TODO(), slog.LevelDebug-4, "checksummer",
			slog.Int("step", t.step),
			slog.String("key", key.String()),
			slog.Uint64("a", a),
			slog.Uint64("b", b),
			slog.Uint64("sum", t.hash.Sum64()))
	}
	t.step++
}

func (t *checksummer) recordBytes(key checksumKey, a []byte) {
	t.hash.Write([]byte{byte(key)})
	t.hash.Write(a)
	t.step++
}

func (t *checksummer) finalize() []byte {
	return binary.LittleEndian.AppendUint64(nil, t.hash.Sum64())
}
