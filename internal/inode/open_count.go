// Copyright 2015 Google Inc. All Rights Reserved.
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

package inode

import (
	"fmt"
)

// openCount backs OpenInode's reference count. It only counts; it does not
// run cleanup itself, so a caller can decrement while holding Store.mu and
// run the (lock-reacquiring) destroy step afterward without reentering a
// mutex it's still holding.
type openCount struct {
	count uint64
}

func (oc *openCount) Inc() {
	oc.count++
}

// Dec decrements the count by n, reporting true once it reaches zero.
func (oc *openCount) Dec(n uint64) (destroyed bool) {
	if n > oc.count {
		panic(fmt.Sprintf("n is greater than open count: %v vs. %v", n, oc.count))
	}

	oc.count -= n
	return oc.count == 0
}
