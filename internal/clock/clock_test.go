// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/tevent/internal/clock"
)

func TestNowAdvancesAfterRefresh(t *testing.T) {
	c := clock.New()
	first := c.Now()
	time.Sleep(time.Millisecond)
	c.Refresh()
	assert.True(t, c.Now().After(first))
}

func TestNowStableBetweenRefreshes(t *testing.T) {
	c := clock.New()
	first := c.Now()
	time.Sleep(time.Millisecond)
	assert.Equal(t, first, c.Now())
}

func TestNotSkewedUnderNormalOperation(t *testing.T) {
	c := clock.New()
	c.Refresh()
	assert.False(t, c.Skewed())
}

func TestNowUncachedAlwaysFresh(t *testing.T) {
	c := clock.NewUncached()
	first := c.Now()
	time.Sleep(time.Millisecond)
	assert.True(t, c.Now().After(first))
}

func TestRebaseShiftsDeadline(t *testing.T) {
	d := time.Now()
	shifted := clock.Rebase(d, time.Second)
	assert.Equal(t, d.Add(time.Second), shifted)
}
