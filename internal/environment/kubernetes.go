package environment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/utils/exec"
)

// KubernetesConfig holds configuration for the Kubernetes provisioner.
type KubernetesConfig struct {
	// ImageRepository the version tag is composed onto (e.g. "python")
	ImageRepository string
	// Namespace where workspace pods are created
	Namespace string
	// ServiceAccount for workspace pods (optional)
	ServiceAccount string
	// Resource limits for workspace pods
	CPULimit    string
	MemoryLimit string
}

// KubernetesProvisioner implements Provisioner using workspace pods.
// Steps exec into the pod over SPDY.
type KubernetesProvisioner struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	config     KubernetesConfig
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesProvisioner creates a new Kubernetes-based provisioner.
// Tries in-cluster configuration first, falls back to kubeconfig for local development.
func NewKubernetesProvisioner(cfg KubernetesConfig) (*KubernetesProvisioner, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		slog.Info("In-cluster config not available, trying kubeconfig", "error", err)
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CPULimit == "" {
		cfg.CPULimit = "500m"
	}
	if cfg.MemoryLimit == "" {
		cfg.MemoryLimit = "512Mi"
	}

	return &KubernetesProvisioner{
		clientset:  clientset,
		restConfig: restConfig,
		config:     cfg,
	}, nil
}

// Provision creates a workspace pod and waits for it to be running.
func (p *KubernetesProvisioner) Provision(ctx context.Context, versionTag string) (Environment, error) {
	if err := ValidateVersionTag(versionTag); err != nil {
		return nil, err
	}
	ref := ImageRef(p.config.ImageRepository, versionTag)

	podName := fmt.Sprintf("testpipe-%d", time.Now().UnixNano())
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: p.config.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "testpipe",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:    "workspace",
					Image:   ref,
					Command: []string{"sleep", "infinity"},
					Resources: corev1.ResourceRequirements{
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse(p.config.CPULimit),
							corev1.ResourceMemory: resource.MustParse(p.config.MemoryLimit),
						},
					},
				},
			},
		},
	}
	if p.config.ServiceAccount != "" {
		pod.Spec.ServiceAccountName = p.config.ServiceAccount
	}

	created, err := p.clientset.CoreV1().Pods(p.config.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create workspace pod: %v", ErrUnavailable, err)
	}

	env := &kubernetesEnvironment{
		clientset:  p.clientset,
		restConfig: p.restConfig,
		namespace:  p.config.Namespace,
		podName:    created.Name,
		ref:        ref,
	}

	if err := env.waitForRunning(ctx); err != nil {
		_ = env.Teardown(context.Background())
		return nil, fmt.Errorf("%w: workspace pod never became ready: %v", ErrUnavailable, err)
	}

	return env, nil
}

// kubernetesEnvironment is a running workspace pod.
type kubernetesEnvironment struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	namespace  string
	podName    string
	ref        string
}

func (e *kubernetesEnvironment) Ref() string {
	return e.ref
}

// waitForRunning polls the pod until it is running (or terminally failed).
func (e *kubernetesEnvironment) waitForRunning(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := e.clientset.CoreV1().Pods(e.namespace).Get(ctx, e.podName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			switch pod.Status.Phase {
			case corev1.PodRunning:
				return nil
			case corev1.PodFailed, corev1.PodSucceeded:
				return fmt.Errorf("pod reached phase %s before exec", pod.Status.Phase)
			}
		}
	}
}

// Exec runs a step inside the workspace pod via SPDY remote command.
// PodExecOptions carries no environment, so variables are injected by
// prefixing the command with env(1).
func (e *kubernetesEnvironment) Exec(ctx context.Context, opts ExecOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	command := opts.Command
	if len(opts.Env) > 0 {
		command = append(append([]string{"env"}, envList(opts.Env)...), opts.Command...)
	}

	req := e.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(e.podName).
		Namespace(e.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: "workspace",
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(e.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	pr, pw := io.Pipe()
	streamCtx, cancel := context.WithCancel(context.Background())

	h := &kubernetesExecHandle{
		cancel: cancel,
		logs:   pr,
		result: make(chan ExitResult, 1),
	}

	go func() {
		err := executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdout: pw,
			Stderr: pw,
		})
		pw.Close()

		res := ExitResult{ExitCode: 0}
		if err != nil {
			var codeErr utilexec.CodeExitError
			if errors.As(err, &codeErr) {
				res.ExitCode = codeErr.Code
			} else {
				res = ExitResult{ExitCode: -1, Error: err}
			}
		}
		h.result <- res
	}()

	return h, nil
}

// ReadFile extracts a file by exec'ing cat and capturing stdout.
func (e *kubernetesEnvironment) ReadFile(ctx context.Context, path string) ([]byte, error) {
	req := e.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(e.podName).
		Namespace(e.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: "workspace",
			Command:   []string{"cat", path},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(e.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	}); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w (%s)", path, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (e *kubernetesEnvironment) Teardown(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := e.clientset.CoreV1().Pods(e.namespace).Delete(ctx, e.podName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete workspace pod %s: %w", e.podName, err)
	}
	return nil
}

// kubernetesExecHandle represents a running in-pod step.
type kubernetesExecHandle struct {
	cancel context.CancelFunc
	logs   *io.PipeReader
	result chan ExitResult
}

func (h *kubernetesExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case res := <-h.result:
		h.result <- res
		if res.Error != nil {
			return res, res.Error
		}
		return res, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *kubernetesExecHandle) Stop(ctx context.Context) error {
	h.cancel()
	return nil
}

func (h *kubernetesExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.logs, nil
}
