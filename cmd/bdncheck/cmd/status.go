/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package cmd

import (
	"fmt"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/epsilon314/bdn/stats"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-screen health summary of the node",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := printStatus(rootTargetFlag); err != nil {
			log.Fatal(err)
		}
	},
}

func printStatus(target string) error {
	counters, err := stats.FetchCounters(target)
	if err != nil {
		return fmt.Errorf("fetching counters: %w", err)
	}

	good := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	fmt.Printf("relay links:   %d\n", counters["relay.links"])
	fmt.Printf("ingress queue: %d\n", counters["queue.ingress"])
	fmt.Printf("send buffer:   %d\n", counters["queue.send"])
	fmt.Printf("relayed:       %d\n", counters["relayed"])

	decodeErrs := counters["errors.decode"]
	sendErrs := counters["errors.send"]
	if decodeErrs == 0 && sendErrs == 0 {
		fmt.Printf("errors:        %s\n", good("none"))
	} else {
		fmt.Printf("errors:        %s\n", bad(fmt.Sprintf("decode=%d send=%d", decodeErrs, sendErrs)))
	}
	return nil
}
