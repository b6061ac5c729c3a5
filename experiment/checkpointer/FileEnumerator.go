package checkpointer

import "fmt"

// FilenameEnumerator returns a function which returns filenames with
// an increasing integer suffix placed before the extension, so that
// FilenameEnumerator(0, "dir/agent", ".bin") produces dir/agent1.bin,
// dir/agent2.bin, and so on.
func FilenameEnumerator(start int, filename, extension string) func() string {
	i := start
	return func() string {
		i++
		return fmt.Sprintf("%v%v%v", filename, i, extension)
	}
}
