// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !layoutrelease

package layout

// debugChecks enables the size reconciliation cross-checks and
// duplicate construction detection. Build with -tags layoutrelease to
// compile them out.
const debugChecks = true
