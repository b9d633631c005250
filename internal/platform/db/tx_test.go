package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAfterCommitWithoutTxRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	require.True(t, ran)
}

func TestAfterCommitDefersUntilHooksRun(t *testing.T) {
	ctx := ContextWithTx(context.Background(), nil)
	ran := false
	AfterCommit(ctx, func(context.Context) { ran = true })
	require.False(t, ran)

	state := ctx.Value(txKey{}).(*txState)
	require.Len(t, state.hooks, 1)
	_, ok := TxFromContext(ctx)
	require.False(t, ok)
}
