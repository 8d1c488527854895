//go:build !linux

package collector

import "errors"

func statfsUsage(path string) (usage, error) {
	return usage{}, errors.New("statfs is only supported on linux")
}
