// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cluster gives the pipeline typed access to the Kubernetes
// scheduler: manifest submission, terminal-condition probing, log
// retrieval, endpoint readback, and idempotent deletion.
package cluster

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"

	"gketune/pkg/logging"
	"gketune/pkg/pipeline"
)

// deploymentPollInterval is how often the readiness wait re-checks a
// Deployment's rollout status.
const deploymentPollInterval = 5 * time.Second

// Client wraps a kubernetes clientset scoped to one namespace. It
// implements the pipeline's Submitter, StatusProbe, LogFetcher,
// EndpointReader and Deleter contracts.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// NewClient creates a client using the default kubeconfig loading rules.
// An empty namespace falls back to the kubeconfig context's namespace,
// or "default".
func NewClient(namespace string) (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{}
	if namespace != "" {
		configOverrides.Context.Namespace = namespace
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	ns := namespace
	if ns == "" {
		ns, _, _ = kubeConfig.Namespace()
		if ns == "" {
			ns = "default"
		}
	}

	return &Client{clientset: clientset, namespace: ns}, nil
}

// NewWithClientset wraps an existing clientset. Used by tests with the
// client-go fake.
func NewWithClientset(clientset kubernetes.Interface, namespace string) *Client {
	return &Client{clientset: clientset, namespace: namespace}
}

// Namespace returns the namespace this client operates in.
func (c *Client) Namespace() string {
	return c.namespace
}

// Submit creates the stage's rendered manifests on the cluster, in
// order. It returns once the scheduler has accepted them; it does not
// wait for the workload to start.
func (c *Client) Submit(ctx context.Context, stage pipeline.Stage) error {
	for _, doc := range stage.Manifests {
		if err := c.create(ctx, doc); err != nil {
			return fmt.Errorf("stage %q: %w", stage.ID, err)
		}
	}
	return nil
}

func (c *Client) create(ctx context.Context, manifest string) error {
	obj, _, err := scheme.Codecs.UniversalDeserializer().Decode([]byte(manifest), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to decode manifest: %w", err)
	}

	switch o := obj.(type) {
	case *batchv1.Job:
		_, err = c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, o, metav1.CreateOptions{})
	case *appsv1.Deployment:
		_, err = c.clientset.AppsV1().Deployments(c.namespace).Create(ctx, o, metav1.CreateOptions{})
	case *corev1.Service:
		_, err = c.clientset.CoreV1().Services(c.namespace).Create(ctx, o, metav1.CreateOptions{})
	default:
		return fmt.Errorf("unsupported manifest kind %T", obj)
	}
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// JobPhase maps the named Job's conditions onto a pipeline phase. A
// "Complete" condition with status True is Succeeded, a "Failed"
// condition with status True is Failed, anything else is Pending. Probe
// errors, including a Job that does not exist yet, map to Unknown so a
// resource-creation race can never abort the pipeline.
func (c *Client) JobPhase(ctx context.Context, name string) pipeline.Phase {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		logging.Debug("Probing job %q: %v", name, err)
		return pipeline.PhaseUnknown
	}

	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return pipeline.PhaseSucceeded
		case batchv1.JobFailed:
			return pipeline.PhaseFailed
		}
	}
	return pipeline.PhasePending
}

// WaitDeploymentReady blocks until the named Deployment's observed
// generation is current and all desired replicas report ready, the
// timeout elapses (context.DeadlineExceeded), or the rollout reports a
// replica failure (any other error).
func (c *Client) WaitDeploymentReady(ctx context.Context, name string, timeout time.Duration) error {
	return wait.PollUntilContextTimeout(ctx, deploymentPollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			dep, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				// Not created yet or transient API error: keep polling.
				logging.Debug("Probing deployment %q: %v", name, err)
				return false, nil
			}

			for _, cond := range dep.Status.Conditions {
				if cond.Type == appsv1.DeploymentReplicaFailure && cond.Status == corev1.ConditionTrue {
					return false, fmt.Errorf("deployment %q rollout failed: %s", name, cond.Message)
				}
			}

			want := int32(1)
			if dep.Spec.Replicas != nil {
				want = *dep.Spec.Replicas
			}
			ready := dep.Status.ObservedGeneration >= dep.Generation && dep.Status.ReadyReplicas >= want
			return ready, nil
		})
}

// TailLogs returns the most recent lines of output from the named
// container of the stage's newest pod. Job pods are found by the
// job-name label; Deployment pods by the app label.
func (c *Client) TailLogs(ctx context.Context, stageID, container string, lines int64) (string, error) {
	pod, err := c.newestStagePod(ctx, stageID)
	if err != nil {
		return "", err
	}

	opts := &corev1.PodLogOptions{TailLines: &lines}
	if container != "" {
		opts.Container = container
	}

	stream, err := c.clientset.CoreV1().Pods(c.namespace).GetLogs(pod.Name, opts).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get logs for pod %q: %w", pod.Name, err)
	}
	defer stream.Close()

	out, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("failed to read logs for pod %q: %w", pod.Name, err)
	}
	return string(out), nil
}

func (c *Client) newestStagePod(ctx context.Context, stageID string) (*corev1.Pod, error) {
	for _, selector := range []string{"job-name=" + stageID, "app=" + stageID} {
		list, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return nil, fmt.Errorf("failed to list pods for stage %q: %w", stageID, err)
		}
		if len(list.Items) == 0 {
			continue
		}
		pods := list.Items
		sort.Slice(pods, func(i, j int) bool {
			return pods[j].CreationTimestamp.Before(&pods[i].CreationTimestamp)
		})
		return &pods[0], nil
	}
	return nil, fmt.Errorf("no pods found for stage %q", stageID)
}

// ServiceEndpoint reads the load-balancer address assigned to the named
// Service. An empty address with a nil error means assignment is still
// pending.
func (c *Client) ServiceEndpoint(ctx context.Context, name string) (string, error) {
	svc, err := c.clientset.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %q: %w", name, err)
	}
	for _, ing := range svc.Status.LoadBalancer.Ingress {
		if ing.IP != "" {
			return ing.IP, nil
		}
		if ing.Hostname != "" {
			return ing.Hostname, nil
		}
	}
	return "", nil
}

// Delete removes the referenced resource, treating "not found" as
// success. Jobs are deleted with background propagation so their pods go
// with them.
func (c *Client) Delete(ctx context.Context, ref pipeline.ResourceRef) error {
	var err error
	switch ref.Kind {
	case pipeline.ResourceJob:
		policy := metav1.DeletePropagationBackground
		err = c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
	case pipeline.ResourceDeployment:
		err = c.clientset.AppsV1().Deployments(c.namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
	case pipeline.ResourceService:
		err = c.clientset.CoreV1().Services(c.namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
	default:
		return fmt.Errorf("unsupported resource kind %q", ref.Kind)
	}
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
