package frameworks

import (
	"strconv"
)

// PyTorchSetup wraps a trainer command in torchrun for single-node multi-GPU training
type PyTorchSetup struct {
	NProcPerNode int
	MasterPort   int
}

// Wrap returns command unchanged for a single process, otherwise the torchrun launch line
func (p *PyTorchSetup) Wrap(command []string) []string {
	if p.NProcPerNode <= 1 || len(command) == 0 {
		return command
	}

	port := p.MasterPort
	if port == 0 {
		port = 29500
	}

	// torchrun takes the script itself, not the interpreter
	script := command
	if isPython(command[0]) && len(command) > 1 {
		script = command[1:]
	}

	launch := []string{
		"python", "-m", "torch.distributed.run",
		"--nproc_per_node=" + strconv.Itoa(p.NProcPerNode),
		"--nnodes=1",
		"--node_rank=0",
		"--master_addr=127.0.0.1",
		"--master_port=" + strconv.Itoa(port),
	}
	return append(launch, script...)
}

func isPython(bin string) bool {
	switch bin {
	case "python", "python3":
		return true
	}
	return false
}
