package engine

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// ProvisionalPrefix starts every client-generated id. Canonical ids are
// plain uuids and never carry it.
const ProvisionalPrefix = "local-"

// provisionalIDs hands out unique ids for tasks the remote has not
// confirmed yet.
type provisionalIDs struct {
	seq    atomic.Uint64
	suffix string
}

func newProvisionalIDs() *provisionalIDs {
	return &provisionalIDs{suffix: uuid.NewString()[:8]}
}

func (g *provisionalIDs) next() string {
	n := g.seq.Add(1)
	return ProvisionalPrefix + strconv.FormatUint(n, 10) + "-" + g.suffix
}

func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}
