package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Confirmed_Requires_Server_Identifier_And_State(t *testing.T) {
	req := require.New(t)

	req.True(Message{ID: "m1", State: StateConfirmed}.Confirmed())
	// An optimistic entry has no server identifier yet
	req.False(Message{LocalID: "tmp-1", State: StatePending}.Confirmed())
	req.False(Message{LocalID: "tmp-2", State: StateFailed}.Confirmed())
	// An identifier alone is not enough either
	req.False(Message{ID: "m2", State: StatePending}.Confirmed())
}

func Test_Before_Orders_By_Timestamp_Then_Identifier(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()

	earlier := Message{ID: "m2", CreatedAt: at}
	later := Message{ID: "m1", CreatedAt: at.Add(time.Second)}
	req.True(earlier.Before(later))
	req.False(later.Before(earlier))

	// Same timestamp falls back to the identifier
	twin := Message{ID: "m3", CreatedAt: at}
	req.True(earlier.Before(twin))
	req.False(twin.Before(earlier))
}
