/*
Copyright 2015 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alation/acm/internal/config"
	"github.com/alation/acm/internal/httpapi"
	"github.com/alation/acm/internal/metrics"
	"github.com/alation/acm/internal/podmanager"
)

// High enough QPS/Burst to fit a single-namespace watch plus deploy/delete
// traffic; client code does not override it per request.
const (
	defaultQPS   = 50
	defaultBurst = 100
)

// scheme carries client-go's built-in API types, core/v1 among them; pods
// are the only objects this binary's controller-runtime client touches. No
// Manager is started, so nothing beyond AddToScheme is required to
// construct a usable client.Client.
var scheme = runtime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
}

func main() {
	var runtimeCfg config.RuntimeConfig
	runtimeCfg.BindFlags(pflag.CommandLine)
	var kubeconfig string
	pflag.StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig file; defaults to in-cluster config")
	pflag.Parse()

	zapLog, err := buildZapLogger(runtimeCfg.ZapDevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer zapLog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zapLog).WithName("acm")

	registryCfg, err := config.LoadRegistryConfigFromEnv()
	if err != nil {
		log.Error(err, "invalid image-registry configuration")
		os.Exit(1)
	}
	log.Info("loaded image-registry configuration", "implementation", registryCfg.Implementation)

	restCfg, err := buildRestConfig(kubeconfig)
	if err != nil {
		log.Error(err, "unable to build kubernetes client config")
		os.Exit(1)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		log.Error(err, "unable to construct kubernetes clientset")
		os.Exit(1)
	}
	// No Reconciler runs in this process, so a bare client.New suffices in
	// place of the Manager-issued client the teacher's controllers use.
	crClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		log.Error(err, "unable to construct controller-runtime client")
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	collectors := metrics.New()
	reg.MustRegister(collectors)

	ctx, cancel := signalContext()
	defer cancel()

	registry := podmanager.NewRegistry(log, collectors)
	resolver := httpapi.ImageResolverFunc(imageResolverFor(registryCfg))

	router := httpapi.New(ctx, clientset, crClient, runtimeCfg.Namespace, registry, resolver, runtimeCfg.DefaultTTL, collectors, log)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              runtimeCfg.BindAddr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "error shutting down http server")
		}
	}()

	log.Info("starting acm pod manager", "addr", runtimeCfg.BindAddr, "namespace", runtimeCfg.Namespace)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "http server exited with error")
		os.Exit(1)
	}
}

// buildZapLogger constructs the teacher's two logger modes: a
// human-readable console logger for local development, and a JSON
// production logger otherwise.
func buildZapLogger(devel bool) (*zap.Logger, error) {
	if devel {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildRestConfig loads a kubeconfig file if given, otherwise falls back to
// the in-cluster config, mirroring how the teacher's controller resolves
// its client config.
func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	restCfg.QPS = defaultQPS
	restCfg.Burst = defaultBurst
	return restCfg, nil
}

// imageResolverFor builds the out-of-scope image-registry collaborator's
// seam: it joins cfg's registry/repository with the client-requested tag.
// A real ECR or Minikube-local resolver would authenticate against
// cfg.Implementation here; spec.md §1 places that behavior out of scope.
func imageResolverFor(cfg config.RegistryConfig) func(tag string) (string, error) {
	return func(tag string) (string, error) {
		if tag == "" {
			return "", fmt.Errorf("tag must not be empty")
		}
		return fmt.Sprintf("%s/%s:%s", cfg.Registry, cfg.Repository, tag), nil
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
