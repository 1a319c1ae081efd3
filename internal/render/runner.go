// Package render runs generated scripts as Kubernetes batch jobs and reports on them.
package render

import (
	"context"
	"errors"
	"fmt"
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	ErrJobNotFound = errors.New("render job not found")
	ErrNoPods      = errors.New("render job has no pods")
)

// JobState is the observed state of a render job.
type JobState struct {
	Succeeded bool
	Failed    bool
	// Reason is the platform's explanation for a failure, e.g. DeadlineExceeded.
	Reason string
}

// Runner launches and inspects render jobs.
type Runner interface {
	CreateJob(ctx context.Context, spec JobSpec) (string, error)
	JobStatus(ctx context.Context, name string) (JobState, error)
	// PodLogs returns the render container's log for the job's most recent pod.
	PodLogs(ctx context.Context, name string) (string, error)
	DeleteJob(ctx context.Context, name string) error
}

// NewClientset connects to the cluster the process runs in, falling back to the
// kubeconfig file when not in a pod.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	return cs, nil
}

// K8sRunner implements Runner on the batch/v1 API.
type K8sRunner struct {
	client kubernetes.Interface
	cfg    JobConfig
}

func NewK8sRunner(client kubernetes.Interface, cfg JobConfig) *K8sRunner {
	return &K8sRunner{client: client, cfg: cfg}
}

// CreateJob submits the job for spec. A job that already exists under the same name is
// treated as created, so a redelivered generation request does not fail on it.
func (r *K8sRunner) CreateJob(ctx context.Context, spec JobSpec) (string, error) {
	job, err := BuildJob(r.cfg, spec)
	if err != nil {
		return "", err
	}
	_, err = r.client.BatchV1().Jobs(r.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("creating job %s: %w", job.Name, err)
	}
	return job.Name, nil
}

func (r *K8sRunner) JobStatus(ctx context.Context, name string) (JobState, error) {
	job, err := r.client.BatchV1().Jobs(r.cfg.Namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return JobState{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if err != nil {
		return JobState{}, fmt.Errorf("reading job %s: %w", name, err)
	}
	return stateOf(job), nil
}

// stateOf prefers the terminal conditions; a non-zero failed count alone can mean a pod
// failed while the job still has retries left.
func stateOf(job *batchv1.Job) JobState {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return JobState{Succeeded: true}
		case batchv1.JobFailed:
			return JobState{Failed: true, Reason: c.Reason}
		}
	}
	if job.Status.Succeeded > 0 && job.Status.Active == 0 {
		return JobState{Succeeded: true}
	}
	return JobState{}
}

func (r *K8sRunner) PodLogs(ctx context.Context, name string) (string, error) {
	pods, err := r.client.CoreV1().Pods(r.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + name,
	})
	if err != nil {
		return "", fmt.Errorf("listing pods for %s: %w", name, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoPods, name)
	}

	items := pods.Items
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreationTimestamp.Before(&items[j].CreationTimestamp)
	})
	pod := items[len(items)-1]

	raw, err := r.client.CoreV1().Pods(r.cfg.Namespace).
		GetLogs(pod.Name, &corev1.PodLogOptions{Container: ContainerName}).
		DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("reading logs of %s: %w", pod.Name, err)
	}
	return string(raw), nil
}

func (r *K8sRunner) DeleteJob(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationBackground
	err := r.client.BatchV1().Jobs(r.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting job %s: %w", name, err)
	}
	return nil
}

var _ Runner = (*K8sRunner)(nil)
