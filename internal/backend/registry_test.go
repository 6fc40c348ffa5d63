// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesIsPriorityOrdered(t *testing.T) {
	names := Names()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		var prevPriority, curPriority int
		for _, c := range candidates {
			if c.name == names[i-1] {
				prevPriority = c.priority
			}
			if c.name == names[i] {
				curPriority = c.priority
			}
		}
		assert.LessOrEqual(t, prevPriority, curPriority)
	}
}

func TestSelectSkipsAvoidedBackends(t *testing.T) {
	names := Names()
	require.NotEmpty(t, names)
	avoid := make(map[string]bool, len(names))
	for _, n := range names[:len(names)-1] {
		avoid[n] = true
	}
	b, err := Select(avoid, 0)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, names[len(names)-1], b.Name())
}

func TestSelectReturnsErrWhenAllAvoided(t *testing.T) {
	avoid := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		avoid[c.name] = true
	}
	_, err := Select(avoid, 0)
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
}

func TestSelectFiltersByRequiredFeatures(t *testing.T) {
	b, err := Select(nil, FeatureEdgeTriggered)
	if err != nil {
		assert.ErrorIs(t, err, ErrNoBackendAvailable)
		return
	}
	defer b.Close()
	assert.True(t, b.Features().Has(FeatureEdgeTriggered))
}
