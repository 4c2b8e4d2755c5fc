package engine_test

import (
	"context"
	"testing"

	"github.com/hotmeshio/hotmesh-go/engine"
	"github.com/stretchr/testify/require"
)

const deployDoc = `
app:
  id: abc
  version: "1"
  graphs:
    - subscribes: abc.test
      activities:
        x:
          id: x
          topic: abc.test
        y:
          id: y
          topic: abc.test.y
          requires: ["x"]
`

func TestDeploy_ValidatesAndPersistsVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	version, err := e.Deploy(ctx, []byte(deployDoc))
	require.NoError(t, err)
	require.Equal(t, "1", version)
}

func TestDeploy_RejectsMismatchedAppID(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.AppID = "other"

	_, err := e.Deploy(ctx, []byte(deployDoc))
	require.Error(t, err)
}

func TestActivate_WritesVersionWithoutBroadcaster(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Deploy(ctx, []byte(deployDoc))
	require.NoError(t, err)
	require.NoError(t, e.Activate(ctx, "1", nil))

	active, err := e.ActiveVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", active)
}

const cyclicDoc = `
app:
  id: abc
  version: "2"
  graphs:
    - subscribes: abc.test
      activities:
        x:
          id: x
          requires: ["y"]
        y:
          id: y
          requires: ["x"]
`

func TestDeploy_RejectsCyclicGraph(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Deploy(ctx, []byte(cyclicDoc))
	require.Error(t, err)
}
