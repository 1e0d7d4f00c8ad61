/* Line echo canceller for raw PCM pipes and files. */
package main

import (
	oslec "github.com/doismellburning/oslec/src"
)

func main() {
	oslec.OECMain()
}
