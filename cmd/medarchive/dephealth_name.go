package main

import (
	"os"
	"regexp"
)

var (
	// deploymentSuffix — "-<pod-template-hash>-<5 символов>" пода Deployment.
	deploymentSuffix = regexp.MustCompile(`-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// statefulSetSuffix — "-<ordinal>" пода StatefulSet.
	statefulSetSuffix = regexp.MustCompile(`-[0-9]+$`)
)

// parseOwnerName извлекает имя владельца пода (Deployment, StatefulSet)
// из hostname. Если суффикс не распознан, hostname возвращается как есть.
func parseOwnerName(hostname string) string {
	if loc := deploymentSuffix.FindStringIndex(hostname); loc != nil && loc[0] > 0 {
		return hostname[:loc[0]]
	}
	if loc := statefulSetSuffix.FindStringIndex(hostname); loc != nil && loc[0] > 0 {
		return hostname[:loc[0]]
	}
	return hostname
}

// dephealthServiceID — идентификатор сервиса для topologymetrics.
func dephealthServiceID() string {
	return parseOwnerName(instanceName())
}

// instanceName — hostname пода, "medarchive" если он недоступен.
func instanceName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "medarchive"
	}
	return hostname
}
