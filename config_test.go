// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tevent

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	c := newConfig(WithIgnoreEnv())
	assert.Equal(t, defaultNumPriorities, c.numPriorities)
	assert.Equal(t, defaultNumPriorities/2, c.defaultPriority)
	assert.False(t, c.noLock)
}

func TestWithAvoidMethod(t *testing.T) {
	c := newConfig(WithIgnoreEnv(), WithAvoidMethod("kqueue"), WithAvoidMethod("poll"))
	assert.True(t, c.avoidMethods["kqueue"])
	assert.True(t, c.avoidMethods["poll"])
	assert.False(t, c.avoidMethods["epoll"])
}

func TestWithNumPriorities(t *testing.T) {
	c := newConfig(WithIgnoreEnv(), WithNumPriorities(5))
	assert.Equal(t, 5, c.numPriorities)
	assert.Equal(t, 2, c.defaultPriority)

	// Non-positive values are ignored.
	c2 := newConfig(WithIgnoreEnv(), WithNumPriorities(0))
	assert.Equal(t, defaultNumPriorities, c2.numPriorities)
}

func TestWithNoLockAndPreciseTimer(t *testing.T) {
	c := newConfig(WithIgnoreEnv(), WithNoLock(), WithPreciseTimer())
	assert.True(t, c.noLock)
	assert.True(t, c.preciseTimer)
}

func TestApplyEnvHonorsAvoidVariables(t *testing.T) {
	os.Setenv("EVENT_NOEPOLL", "1")
	defer os.Unsetenv("EVENT_NOEPOLL")
	c := newConfig()
	assert.True(t, c.avoidMethods["epoll"])
}

func TestIgnoreEnvSkipsEnvVariables(t *testing.T) {
	os.Setenv("EVENT_NOEPOLL", "1")
	defer os.Unsetenv("EVENT_NOEPOLL")
	c := newConfig(WithIgnoreEnv())
	assert.False(t, c.avoidMethods["epoll"])
}

func TestApplyEnvHonorsShowMethod(t *testing.T) {
	os.Setenv("EVENT_SHOW_METHOD", "1")
	defer os.Unsetenv("EVENT_SHOW_METHOD")
	c := newConfig()
	assert.True(t, c.showMethod)
}

func TestWithNoCacheTimeAndEpollUseChangelist(t *testing.T) {
	c := newConfig(WithIgnoreEnv(), WithNoCacheTime(), WithEpollUseChangelist())
	assert.True(t, c.noCacheTime)
	assert.True(t, c.epollChangelist)
}
