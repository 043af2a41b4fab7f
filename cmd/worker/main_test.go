package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/app"
	_ "github.com/anesthmed/anesthmed/internal/testing/guard"
)

func TestWorkerSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
