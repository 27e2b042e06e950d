package respool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Check(t *testing.T) {
	conf := &Config{}
	err := conf.Check()
	require.Nil(t, err)
	require.Equal(t, defMaxSize, conf.MaxSize)
	require.Equal(t, defMaxSize, conf.MaxIdle)
	require.Equal(t, defAcquisitionTimeout, conf.AcquisitionTimeout)
	require.Equal(t, defSweepInterval, conf.SweepInterval)
	require.Equal(t, defCreateAttempts, conf.CreateAttempts)
	require.NotNil(t, conf.Logger)
	t.Logf("%+v", conf)
}

func TestConfig_CheckMinIdleRaisesDefaultMaxSize(t *testing.T) {
	conf := &Config{MinIdle: defMaxSize + 5}
	require.Nil(t, conf.Check())
	require.Equal(t, defMaxSize+5, conf.MaxSize)
}

func TestConfig_CheckInvalid(t *testing.T) {
	for name, conf := range map[string]*Config{
		"negative min idle":   {MinIdle: -1},
		"negative max size":   {MaxSize: -1},
		"max below min":       {MinIdle: 3, MaxSize: 2},
		"max idle below min":  {MinIdle: 3, MaxSize: 5, MaxIdle: 2},
		"negative timeout":    {AcquisitionTimeout: -time.Second},
		"negative sweep":      {SweepInterval: -time.Second},
		"negative connection": {ConnectTimeout: -time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, conf.Check(), ErrInvalidConfig)
		})
	}
}
