package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// itob encodes an int64 id big-endian so bucket key order matches id
// order, for deterministic iteration.
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// dueIndexKey builds a secondary-index key that sorts first by
// status, then by next_poll_at, then by id, so a per-status cursor
// range scan visits due rows in next_poll_at order (§4.2).
func dueIndexKey(status string, nextPollAt time.Time, id int64) []byte {
	return []byte(fmt.Sprintf("%s|%020d|%020d", status, nextPollAt.UnixNano(), id))
}

func dueIndexPrefix(status string) []byte {
	return []byte(status + "|")
}
