// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command bufqsim runs a producer and a consumer against one buffer queue
// and reports what happened to the frames.
package main

import (
	"os"

	"code.hybscloud.com/bufq/cmd/bufqsim/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
