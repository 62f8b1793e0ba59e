package driver_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/graphbolt/pkg/driver"
	"github.com/cuemby/graphbolt/test/integration/fakeserver"
)

func TestDriverRunsQueryAgainstDirectTarget(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.Script("RETURN 1", fakeserver.QueryScript{
		Keys:    []string{"1"},
		Records: [][]any{{int64(1)}},
	})

	d, err := driver.New(fmt.Sprintf("bolt://%s", srv.Address()), driver.NoAuth(), driver.Config{
		ConnectionTimeout: time.Second,
	})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.VerifyConnectivity(ctx))
}
