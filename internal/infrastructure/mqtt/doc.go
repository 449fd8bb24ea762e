// Package mqtt wraps the paho client for the SwitchBot bridge.
//
// A single Client carries every broker exchange the bridge has:
//
//	Gray Logic Core  <->  broker  <->  bridge  <->  broker  <->  BLE gateway
//
// Core sends commands on graylogic/command/switchbot/{device} and reads
// retained capability values under graylogic/core/device/{device}/service/.
// A BLE gateway, when configured, relays advertisements under
// {prefix}/adv/ and takes writes on {prefix}/cmd/{mac}.
//
// The Client redials on its own and replays subscriptions afterwards. It
// announces presence on graylogic/system/status/{client_id}, and its will
// covers the unclean case. Publish rejects wildcard topics, and Subscribe
// rejects malformed filters. MatchFilter applies broker filter semantics
// locally.
//
// Production brokers should have TLS enabled (broker.tls: true). Anonymous
// access is for development only.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands(), 1, handleCommand)
package mqtt
