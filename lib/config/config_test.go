// SPDX-License-Identifier: GPL-2.0-or-later

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memhier/simcore/lib/config"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	assert.NoError(t, config.Default().Validate())
}

func TestRejectsNonPowerOfTwoGeometry(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.L1Assoc = 6
	assert.Error(t, c.Validate())
}

func TestRejectsUnknownReplPolicy(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.ReplPolicy = "bogus"
	assert.Error(t, c.Validate())
}

func TestPartitioningRequiresAssocDivisibleByCores(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.L1Assoc = 8
	c.NumCores = 3
	c.L1PartOn = true
	assert.Error(t, c.Validate())
}

func TestPrivateL1IsRecognizedButUnimplemented(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.PrivateL1 = true
	assert.Error(t, c.Validate())
}

func TestUnknownPartitionMetricRejected(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.L1PartOn = true
	c.L1PartMetric = "nonsense"
	assert.Error(t, c.Validate())
}
