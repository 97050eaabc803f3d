//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

func buildShaders() error {
	fmt.Println("Build shaders...")
	vkSDKPath := os.Getenv("VULKAN_SDK")
	if _, err := executeCmd(fmt.Sprintf("%s/bin/glslc", vkSDKPath), withArgs("-fshader-stage=compute", "testbed/shaders/fill.comp.glsl", "-o", "testbed/shaders/fill.comp.spv"), withStream()); err != nil {
		return err
	}
	return nil
}

// Compiles the testbed compute shaders with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the module.
func (Build) Module() error {
	if _, err := executeCmd("go", withArgs("build", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the test suite.
func (Build) Test() error {
	if _, err := executeCmd("go", withArgs("test", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}
