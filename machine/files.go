package machine

import "strings"

// escapePath protects spaces, which the firmware treats as separators.
func escapePath(p string) string { return strings.ReplaceAll(p, " ", "\x01") }

// ListDir asks for a listing of dir; entries arrive on the log queue
// terminated by EOT.
func (c *Controller) ListDir(dir string) error {
	return c.SendCommand("ls -e -s " + escapePath(dir))
}

func (c *Controller) Remove(path string) error {
	return c.SendCommand("rm -e " + escapePath(path))
}

func (c *Controller) Rename(from, to string) error {
	return c.SendCommand("mv -e " + escapePath(from) + " " + escapePath(to))
}

func (c *Controller) Mkdir(dir string) error {
	return c.SendCommand("mkdir -e " + escapePath(dir))
}

// MD5 asks for the digest of a file on the machine.
func (c *Controller) MD5(path string) error {
	return c.SendCommand("md5sum -e " + escapePath(path))
}

// Play starts running a file stored on the machine.
func (c *Controller) Play(path string) error {
	return c.SendCommand("play " + escapePath(path))
}
