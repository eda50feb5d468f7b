package denylist

// DefaultPatterns contains the hardcoded denylist patterns. Package entries
// are known typosquats and compromised releases; sandbox entries are the
// container escapes a request must never smuggle in.
var DefaultPatterns = Patterns{
	Packages: []string{
		"colourama",
		"python3-dateutil",
		"jeIlyfish",
		"python-sqlite",
		"setup-tools",
		"urlib3",
		"event-stream@3.3.6",
		"flatmap-stream",
		"ua-parser-js@0.7.29",
		"ua-parser-js@0.8.0",
		"ua-parser-js@1.0.0",
		"node-ipc@10.1.1",
		"node-ipc@10.1.2",
		"coa@2.0.3",
		"rc@1.2.9",
	},
	Sandbox: []string{
		"--privileged",
		"privileged=true",
		"docker.sock",
		"/var/run/docker",
		"containerd.sock",
		"--cap-add",
		"--network=host",
		"--net=host",
		"--pid=host",
		"--ipc=host",
		"--device",
		"--volume",
		"-v /",
		"seccomp=unconfined",
		"apparmor=unconfined",
	},
}
