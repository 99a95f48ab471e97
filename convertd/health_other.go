//go:build !linux

package convertd

import "errors"

var errStatsUnsupported = errors.New("convertd: system stats unavailable on this platform")

func memoryStats() (*sysStats, error) { return nil, errStatsUnsupported }

func diskStats(string) (*sysStats, error) { return nil, errStatsUnsupported }
