// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package facade

import (
	"golang.org/x/time/rate"
)

// RateLimiter bounds tool-call throughput with token buckets: one bucket
// for run calls, one for all calls.
type RateLimiter struct {
	run  *rate.Limiter
	call *rate.Limiter
}

// NewRateLimiter creates a limiter allowing runsPerMinute run calls and
// callsPerMinute total calls, each with a burst of the per-minute count.
func NewRateLimiter(runsPerMinute, callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		run:  rate.NewLimiter(rate.Limit(float64(runsPerMinute)/60.0), runsPerMinute),
		call: rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), callsPerMinute),
	}
}

// AllowRun reports whether a run call may proceed. Consumes from both
// buckets.
func (rl *RateLimiter) AllowRun() bool {
	if !rl.call.Allow() {
		return false
	}
	return rl.run.Allow()
}

// AllowCall reports whether any tool call may proceed.
func (rl *RateLimiter) AllowCall() bool {
	return rl.call.Allow()
}
