// Command ppo trains and evaluates PPO agents on the gridworld
// environment
package main

func main() {
	Execute()
}
